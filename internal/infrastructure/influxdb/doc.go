// Package influxdb writes relay telemetry to InfluxDB v2.
//
// Every effective channel change becomes a relay_state point and every
// dispatched command a relay_command point. Writes are non-blocking and
// batched per config (batch_size, flush_interval); async write failures
// are delivered to the SetOnError callback.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteChannelState("ipx800", 3, "Hall", true, "webhook", time.Now())
package influxdb
