// Package mqtt provides the MQTT client the bridge uses to expose Sonoff
// accessories to other home-automation software.
//
// The client wraps paho.mqtt.golang and adds:
//   - Subscription tracking with restore after reconnect
//   - A retained online/offline status with a Last Will for crashes
//   - Panic recovery around message handlers
//
// Topic layout is defined by Topics; every topic lives under "sonoffbridge/".
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handler)
package mqtt
