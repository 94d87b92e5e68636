package analytics

import (
	"context"
	"fmt"
	"time"
)

// AnomalyType identifies the kind of anomaly detected.
type AnomalyType string

const (
	AnomalySlowResponse  AnomalyType = "slow_response"  // Latency above threshold
	AnomalyEmptyResponse AnomalyType = "empty_response" // Successful exchange produced no text
	AnomalyLongStream    AnomalyType = "long_stream"    // Chunk count above threshold
	AnomalyErrorStatus   AnomalyType = "error_status"   // Response status 400 or above
)

// Anomaly represents a detected issue in one indexed record.
type Anomaly struct {
	Type        AnomalyType
	RequestID   string
	Timestamp   time.Time
	Severity    string // 'info', 'warning'
	Description string
	Value       float64 // The actual value that triggered the anomaly
	Threshold   float64 // The threshold that was exceeded
}

// AnomalyThresholds configures what triggers anomaly detection.
type AnomalyThresholds struct {
	SlowLatencyMS    float64 // Latency above this = slow response
	LongStreamChunks int     // Chunk count above this = long stream
}

// DefaultThresholds returns sensible default anomaly thresholds.
func DefaultThresholds() *AnomalyThresholds {
	return &AnomalyThresholds{
		SlowLatencyMS:    30000, // 30 seconds
		LongStreamChunks: 2000,
	}
}

// detectLimit caps each anomaly category so a pathological index does
// not flood the report.
const detectLimit = 50

// DetectAnomalies scans the index for records worth a second look.
func (e *Engine) DetectAnomalies(ctx context.Context, thresholds *AnomalyThresholds) ([]*Anomaly, error) {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}

	var anomalies []*Anomaly

	// Slow responses
	rows, err := e.db.QueryContext(ctx, `
		SELECT request_id, timestamp, latency_ms FROM records
		WHERE latency_ms > ?
		ORDER BY latency_ms DESC
		LIMIT ?
	`, thresholds.SlowLatencyMS, detectLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, ts string
		var latency float64
		if err := rows.Scan(&id, &ts, &latency); err != nil {
			return nil, err
		}
		timestamp, _ := time.Parse(time.RFC3339Nano, ts)
		anomalies = append(anomalies, &Anomaly{
			Type:        AnomalySlowResponse,
			RequestID:   id,
			Timestamp:   timestamp,
			Severity:    "info",
			Description: "Response latency exceeds threshold",
			Value:       latency,
			Threshold:   thresholds.SlowLatencyMS,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Successful exchanges with empty reconstructed text
	rows, err = e.db.QueryContext(ctx, `
		SELECT request_id, timestamp FROM records
		WHERE response_chars = 0 AND status BETWEEN 200 AND 299
		ORDER BY timestamp DESC
		LIMIT ?
	`, detectLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, ts string
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		timestamp, _ := time.Parse(time.RFC3339Nano, ts)
		anomalies = append(anomalies, &Anomaly{
			Type:        AnomalyEmptyResponse,
			RequestID:   id,
			Timestamp:   timestamp,
			Severity:    "warning",
			Description: "Successful exchange produced no response text",
			Value:       0,
			Threshold:   0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Unusually long streams
	rows, err = e.db.QueryContext(ctx, `
		SELECT request_id, timestamp, chunk_count FROM records
		WHERE chunk_count > ?
		ORDER BY chunk_count DESC
		LIMIT ?
	`, thresholds.LongStreamChunks, detectLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, ts string
		var chunks int
		if err := rows.Scan(&id, &ts, &chunks); err != nil {
			return nil, err
		}
		timestamp, _ := time.Parse(time.RFC3339Nano, ts)
		anomalies = append(anomalies, &Anomaly{
			Type:        AnomalyLongStream,
			RequestID:   id,
			Timestamp:   timestamp,
			Severity:    "info",
			Description: "Stream chunk count exceeds threshold",
			Value:       float64(chunks),
			Threshold:   float64(thresholds.LongStreamChunks),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Error statuses
	rows, err = e.db.QueryContext(ctx, `
		SELECT request_id, timestamp, status FROM records
		WHERE status >= 400
		ORDER BY timestamp DESC
		LIMIT ?
	`, detectLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, ts string
		var status int
		if err := rows.Scan(&id, &ts, &status); err != nil {
			return nil, err
		}
		timestamp, _ := time.Parse(time.RFC3339Nano, ts)
		anomalies = append(anomalies, &Anomaly{
			Type:        AnomalyErrorStatus,
			RequestID:   id,
			Timestamp:   timestamp,
			Severity:    "warning",
			Description: fmt.Sprintf("Upstream returned status %d", status),
			Value:       float64(status),
			Threshold:   400,
		})
	}

	return anomalies, rows.Err()
}
