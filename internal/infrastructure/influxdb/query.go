package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// maxHistoryPoints caps a single history query.
const maxHistoryPoints = 1000

// Sample is one recorded value.
type Sample struct {
	Time  time.Time `json:"time"`
	Value any       `json:"value"`
}

// VariableHistory returns the values recorded for one variable since the
// given time, oldest first.
func (c *Client) VariableHistory(ctx context.Context, instanceID, variableID string, since time.Time) ([]Sample, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	result, err := c.queryAPI.Query(ctx, variableHistoryQuery(c.bucket, instanceID, variableID, since))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	var samples []Sample
	for result.Next() {
		rec := result.Record()
		samples = append(samples, Sample{Time: rec.Time(), Value: rec.Value()})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return samples, nil
}

// variableHistoryQuery builds the Flux query for VariableHistory. Identifiers
// are quoted with strconv.Quote so they cannot break out of the string
// literals.
func variableHistoryQuery(bucket, instanceID, variableID string, since time.Time) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %s and r.instance_id == %s and r.variable == %s and r._field == "value")
  |> sort(columns: ["_time"])
  |> limit(n: %d)`,
		strconv.Quote(bucket),
		since.UTC().Format(time.RFC3339),
		strconv.Quote(MeasurementVariable),
		strconv.Quote(instanceID),
		strconv.Quote(variableID),
		maxHistoryPoints,
	)
}
