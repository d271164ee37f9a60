package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementVariable = "module_variable"
	MeasurementFeedback = "module_feedback"
	MeasurementStatus   = "module_status"
)

// WriteVariableValue records one published variable value. Cleared
// variables (nil value) are not written.
//
// Example:
//
//	client.WriteVariableValue("instance-001", "counter", "count", 5)
func (c *Client) WriteVariableValue(instanceID, label, variableID string, value any) {
	c.writePoint(VariablePoint(instanceID, label, variableID, value, time.Now()))
}

// WriteFeedbackValue records one evaluated feedback. Unknown values (nil)
// are not written.
func (c *Client) WriteFeedbackValue(instanceID, feedbackID, controlID string, value any) {
	c.writePoint(FeedbackPoint(instanceID, feedbackID, controlID, value, time.Now()))
}

// WriteStatus records an instance status change.
func (c *Client) WriteStatus(instanceID, status, message string) {
	c.writePoint(write.NewPoint(
		MeasurementStatus,
		map[string]string{"instance_id": instanceID, "status": status},
		map[string]interface{}{"message": message},
		time.Now(),
	))
}

func (c *Client) writePoint(p *write.Point) {
	if p == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

// VariablePoint builds the point for a variable value, or nil when value
// is nil.
func VariablePoint(instanceID, label, variableID string, value any, ts time.Time) *write.Point {
	field, ok := fieldValue(value)
	if !ok {
		return nil
	}
	return write.NewPoint(
		MeasurementVariable,
		map[string]string{
			"instance_id": instanceID,
			"label":       label,
			"variable":    variableID,
		},
		map[string]interface{}{"value": field},
		ts,
	)
}

// FeedbackPoint builds the point for a feedback value, or nil when value
// is nil.
func FeedbackPoint(instanceID, feedbackID, controlID string, value any, ts time.Time) *write.Point {
	field, ok := fieldValue(value)
	if !ok {
		return nil
	}
	return write.NewPoint(
		MeasurementFeedback,
		map[string]string{
			"instance_id": instanceID,
			"feedback":    feedbackID,
			"control_id":  controlID,
		},
		map[string]interface{}{"value": field},
		ts,
	)
}

// fieldValue converts a decoded JSON value to an InfluxDB field. Numbers,
// strings and booleans are stored as-is; objects and arrays (advanced
// feedback styles) are stored as their JSON text.
func fieldValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case bool, string, float64, float32, int, int64, int32, uint, uint64:
		return t, true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, false
		}
		return string(b), true
	}
}
