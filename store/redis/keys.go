package redis

// Primary documents.
const (
	prefixEventType = "herald:evtype:"   // + name
	prefixEndpoint  = "herald:ep:"       // + endpoint ID
	prefixFailures  = "herald:ep:fails:" // + endpoint ID
	prefixEvent     = "herald:evt:"      // + event ID
	prefixDelivery  = "herald:del:"      // + delivery ID, a hash
)

// Unique indexes.
const (
	uniqueEventIdem = "herald:u:evt:idem:" // + tenant ID + ":" + key
)

// Sorted set indexes.
const (
	zEventTypeAll    = "herald:z:evtype:all" // all scores 0, lexical order
	zEndpointAll     = "herald:z:ep:all"
	zEndpointTenant  = "herald:z:ep:tenant:" // + tenant ID
	zEventAll        = "herald:z:evt:all"
	zEventTenant     = "herald:z:evt:tenant:" // + tenant ID
	zDeliveryAll     = "herald:z:del:all"
	zDeliveryEP      = "herald:z:del:ep:"  // + endpoint ID
	zDeliveryEvt     = "herald:z:del:evt:" // + event ID
	zDeliveryDue     = "herald:z:del:due"      // claimable, scored by next attempt
	zDeliveryClaimed = "herald:z:del:inflight" // in flight, scored by claim time
)

// Other keys.
const (
	sEndpointEnabled = "herald:s:ep:tenant:" // + tenant ID + ":enabled"
	hDeliveryCounts  = "herald:h:del:counts" // state -> count
)

// Fields of a delivery hash. The document holds everything except the
// claim fields, which the Lua scripts own.
const (
	fieldDoc        = "doc"
	fieldState      = "state"
	fieldClaimToken = "claim_token"
	fieldClaimedAt  = "claimed_at"
)

func entityKey(prefix, id string) string {
	return prefix + id
}

func enabledSetKey(tenantID string) string {
	return sEndpointEnabled + tenantID + ":enabled"
}

func idemKey(tenantID, key string) string {
	return uniqueEventIdem + tenantID + ":" + key
}
