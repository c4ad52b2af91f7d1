// Package herald delivers outbound webhooks reliably.
//
// A Herald instance owns a catalog of event types, a registry of tenant
// endpoints and a delivery engine. Submitting an event persists it, fans it
// out into one delivery per subscribed endpoint and returns; the engine then
// POSTs the signed payload in the background, retrying with jittered
// exponential backoff until the receiver accepts it, rejects it, or the
// attempt limit is reached.
//
// Every attempt sends the same bytes. Each request carries an
// X-Webhook-Signature header holding hex(HMAC-SHA256(secret, "<ts>.<body>"))
// and the matching X-Webhook-Timestamp; receivers can check both with
// signature.VerifyHeader.
//
// Quick start:
//
//	h, err := herald.New(herald.WithStore(memory.New()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	h.RegisterEventType(ctx, catalog.Definition{Name: "request.approved"})
//	ep, secret, err := h.RegisterEndpoint(ctx, endpoint.Input{
//	    TenantID:   "acme",
//	    URL:        "https://hooks.acme.example/timeoff",
//	    EventTypes: []string{"request.*"},
//	})
//
//	h.Start(ctx)
//	defer h.Stop(ctx)
//
//	evt, _ := event.New("acme", "request.approved", map[string]any{"request_id": "tor_42"})
//	ids, err := h.SubmitEvent(ctx, evt)
package herald
