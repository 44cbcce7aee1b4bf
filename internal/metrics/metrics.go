package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "outputcore_"

	resultSuccess  = "success"
	resultRejected = "rejected"
	resultError    = "error"
	resultDropped  = "dropped"
)

var (
	registerOnce sync.Once

	switchTotal       *prometheus.CounterVec
	ampLoad           prometheus.Gauge
	outputsOn         prometheus.Gauge
	scheduledOffTotal *prometheus.CounterVec
	measurementTotal  *prometheus.CounterVec
	triggerDispatch   *prometheus.CounterVec
	driverErrorsTotal *prometheus.CounterVec
	mqttPublishTotal  *prometheus.CounterVec
)

// Init registers output controller metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		switchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "switch_total",
				Help: "Total output switch requests by requested state and result",
			},
			[]string{"state", "result"},
		)
		ampLoad = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "amp_load_amps",
				Help: "Current draw of all energized outputs",
			},
		)
		outputsOn = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "outputs_on",
				Help: "Number of outputs currently on",
			},
		)
		scheduledOffTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduled_off_total",
				Help: "Timed cycles reverted by the scheduling loop by result",
			},
			[]string{"result"},
		)
		measurementTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "measurement_writes_total",
				Help: "Recorded output measurements by kind and result",
			},
			[]string{"kind", "result"},
		)
		triggerDispatch = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trigger_dispatch_total",
				Help: "Trigger action dispatches by result",
			},
			[]string{"result"},
		)
		driverErrorsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "driver_errors_total",
				Help: "Driver failures by operation",
			},
			[]string{"operation"},
		)
		mqttPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mqtt_publish_total",
				Help: "MQTT messages published by topic kind and result",
			},
			[]string{"topic", "result"},
		)

		prometheus.MustRegister(
			switchTotal,
			ampLoad,
			outputsOn,
			scheduledOffTotal,
			measurementTotal,
			triggerDispatch,
			driverErrorsTotal,
			mqttPublishTotal,
		)
	})
}

// ObserveSwitch counts a switch request.
func ObserveSwitch(state, result string) {
	if result == "" {
		result = resultSuccess
	}
	if switchTotal != nil {
		switchTotal.WithLabelValues(state, result).Inc()
	}
}

// SetLoad publishes the current amp load and number of energized outputs.
func SetLoad(amps float64, on int) {
	if ampLoad != nil {
		ampLoad.Set(amps)
	}
	if outputsOn != nil {
		outputsOn.Set(float64(on))
	}
}

// IncScheduledOff counts a timed cycle handed to the task pool.
func IncScheduledOff(result string) {
	if scheduledOffTotal != nil {
		scheduledOffTotal.WithLabelValues(result).Inc()
	}
}

// IncMeasurement counts a measurement write outcome.
func IncMeasurement(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if measurementTotal != nil {
		measurementTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncTriggerDispatch counts a trigger action dispatch outcome.
func IncTriggerDispatch(result string) {
	if triggerDispatch != nil {
		triggerDispatch.WithLabelValues(result).Inc()
	}
}

// IncDriverError counts a failed driver call.
func IncDriverError(operation string) {
	if driverErrorsTotal != nil {
		driverErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// IncMQTTPublish counts an MQTT publish outcome by topic kind.
func IncMQTTPublish(topic, result string) {
	if mqttPublishTotal != nil {
		mqttPublishTotal.WithLabelValues(topic, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultRejected = resultRejected
	ResultError    = resultError
	ResultDropped  = resultDropped
)
