// Package mqtt provides the telemetry bus client.
//
// This package manages:
//   - An explicit connection state machine (Disconnected, Connecting,
//     Connected, Draining)
//   - Per-role connect retry policies (bounded fixed delay for the
//     publisher, unbounded capped exponential for the ingestor)
//   - Message publishing and wildcard subscriptions
//   - Last Will and Testament (LWT) for offline detection
//
// # Delivery
//
// Inbound messages are routed in order: one handler call returns before
// the next starts. Handlers run behind panic recovery and a returned error
// is logged, never propagated. Messages that arrive while the client is not
// Connected are dropped.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, mqtt.Options{
//	    Role:         "ingestor",
//	    StatusPrefix: cfg.Telemetry.BasePrefix,
//	    Policy:       mqtt.ExponentialRetry{Base: time.Second, Max: 30 * time.Second},
//	})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err := client.Subscribe("hyatt-place/sensors/#", 1,
//	    func(topic string, payload []byte) error {
//	        return worker.Handle(topic, payload)
//	    })
package mqtt
