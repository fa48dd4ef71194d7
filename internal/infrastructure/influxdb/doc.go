// Package influxdb records Sonoff relay history in InfluxDB.
//
// Every poll result and every reachability change becomes a point in the
// "switch_state" measurement, tagged by accessory UUID and device id, so
// dashboards can chart when each relay was on and when it dropped off the
// network.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSwitchState(influxdb.SwitchSample{AccessoryID: id, On: true, Reachable: true})
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Write errors are delivered to the SetOnError callback.
package influxdb
