package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/storage"
)

// Ensure implementations satisfy interfaces.
var (
	_ storage.Router         = (*DefaultRouter)(nil)
	_ storage.RotationPolicy = (*CompositePolicy)(nil)
)

// DefaultRouter implements Hive-style partitioning for storage paths.
type DefaultRouter struct {
	protocol string
	bucket   string
	basePath string
	version  string
}

// NewRouter creates a new storage router. Empty bucket or basePath
// segments are left out of routed paths.
func NewRouter(protocol, bucket, basePath, version string) *DefaultRouter {
	return &DefaultRouter{
		protocol: protocol,
		bucket:   strings.Trim(bucket, "/"),
		basePath: strings.Trim(basePath, "/"),
		version:  version,
	}
}

// Route returns protocol://bucket/basePath/topic/version/dt=YYYY-MM-DD/pid=N/
// for the event time. A non-empty specVersion replaces the configured
// version with its digits prefixed by "v", so "1.0" becomes "v10".
func (r *DefaultRouter) Route(partitionID event.PartitionID, timestamp int64, specVersion string) string {
	date := time.Unix(timestamp, 0).UTC().Format("2006-01-02")

	version := r.version
	if digits := strings.ReplaceAll(specVersion, ".", ""); digits != "" {
		version = "v" + digits
	}

	segments := make([]string, 0, 6)
	for _, s := range []string{r.bucket, r.basePath, partitionID.Topic, version} {
		if s != "" {
			segments = append(segments, s)
		}
	}
	segments = append(segments,
		"dt="+date,
		fmt.Sprintf("pid=%d", partitionID.Partition),
	)

	return r.protocol + "://" + strings.Join(segments, "/") + "/"
}

// RotationStrategy determines when to rotate files.
type RotationStrategy string

const (
	StrategyComposite RotationStrategy = "composite"
	StrategySizeOnly  RotationStrategy = "size"
	StrategyTimeOnly  RotationStrategy = "time"
	StrategyCount     RotationStrategy = "count"
)

// ParseRotationStrategy accepts the strategy names; empty selects composite.
func ParseRotationStrategy(s string) (RotationStrategy, error) {
	switch RotationStrategy(strings.ToLower(s)) {
	case "", StrategyComposite:
		return StrategyComposite, nil
	case StrategySizeOnly:
		return StrategySizeOnly, nil
	case StrategyTimeOnly:
		return StrategyTimeOnly, nil
	case StrategyCount:
		return StrategyCount, nil
	default:
		return "", fmt.Errorf("invalid rotation strategy: %s (must be composite, size, time or count)", s)
	}
}

// PolicyConfig configures rotation behavior.
type PolicyConfig struct {
	MaxFileSizeMB      int64
	MaxRecordsPerFile  int
	MaxDurationSeconds int
	Strategy           string
}

// CompositePolicy rotates when any enabled limit is reached. The strategy
// selects which limits are enabled.
type CompositePolicy struct {
	maxSizeBytes int64
	maxRecords   int
	maxDuration  time.Duration
	now          func() time.Time
}

// NewPolicy creates a rotation policy. Unknown strategies behave as
// composite; the loader rejects them before this point.
func NewPolicy(config PolicyConfig) *CompositePolicy {
	p := &CompositePolicy{
		maxSizeBytes: config.MaxFileSizeMB * 1024 * 1024,
		maxRecords:   config.MaxRecordsPerFile,
		maxDuration:  time.Duration(config.MaxDurationSeconds) * time.Second,
		now:          time.Now,
	}

	strategy, _ := ParseRotationStrategy(config.Strategy)
	switch strategy {
	case StrategySizeOnly:
		p.maxRecords, p.maxDuration = 0, 0
	case StrategyTimeOnly:
		p.maxSizeBytes, p.maxRecords = 0, 0
	case StrategyCount:
		p.maxSizeBytes, p.maxDuration = 0, 0
	}
	return p
}

// ShouldRotate returns true if any rotation condition is met.
func (p *CompositePolicy) ShouldRotate(stats event.FileStats) bool {
	if stats.RecordCount == 0 {
		return false
	}
	if p.maxSizeBytes > 0 && stats.SizeBytes >= p.maxSizeBytes {
		return true
	}
	if p.maxRecords > 0 && stats.RecordCount >= p.maxRecords {
		return true
	}
	if p.maxDuration > 0 && !stats.FirstWriteTime.IsZero() {
		return p.now().Sub(stats.FirstWriteTime) >= p.maxDuration
	}
	return false
}
