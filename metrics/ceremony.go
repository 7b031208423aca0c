package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

var (
	versionDesc = prometheus.NewDesc(
		"coordinator_ceremony_version_info",
		"The latest version of the ceremony",
		nil, nil)
	lockInfoDesc = prometheus.NewDesc(
		"coordinator_ceremony_lock_info",
		"The latest lock state",
		[]string{"chunkId"}, nil)
	lockTimestampDesc = prometheus.NewDesc(
		"coordinator_ceremony_lock_timestamp",
		"The latest lock modification time",
		[]string{"chunkId"}, nil)
	contributionsDesc = prometheus.NewDesc(
		"coordinator_ceremony_contributions",
		"Number of entries in the contribution history of a chunk",
		[]string{"chunkId"}, nil)
	completeDesc = prometheus.NewDesc(
		"coordinator_ceremony_complete",
		"1 once every chunk carries a verified contribution from every contributor",
		nil, nil)
	attestationsDesc = prometheus.NewDesc(
		"coordinator_ceremony_attestations",
		"Number of attestations registered",
		nil, nil)
)

const collectTimeout = 5 * time.Second

type ceremonyCollector struct {
	source Source
	log    log.Logger
}

// NewCeremonyCollector reads the document on every scrape.
func NewCeremonyCollector(source Source, l log.Logger) prometheus.Collector {
	return &ceremonyCollector{source: source, log: l}
}

func (c *ceremonyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- versionDesc
	ch <- lockInfoDesc
	ch <- lockTimestampDesc
	ch <- contributionsDesc
	ch <- attestationsDesc
	ch <- completeDesc
}

func (c *ceremonyCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()
	doc, err := c.source.GetCeremony(ctx)
	if err != nil {
		c.log.Warnw("collecting ceremony metrics", "err", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(versionDesc, prometheus.GaugeValue, float64(doc.Version))
	ch <- prometheus.MustNewConstMetric(attestationsDesc, prometheus.GaugeValue, float64(len(doc.Attestations)))
	complete := 0.0
	if ceremony.Complete(doc) {
		complete = 1
	}
	ch <- prometheus.MustNewConstMetric(completeDesc, prometheus.GaugeValue, complete)
	for i := range doc.Chunks {
		chunk := &doc.Chunks[i]
		locked := 0.0
		if chunk.LockHolder != "" {
			locked = 1
		}
		ch <- prometheus.MustNewConstMetric(lockInfoDesc, prometheus.GaugeValue, locked, chunk.ChunkID)
		var ts float64
		if t := chunk.Metadata.LockHolderTime; t != nil {
			ts = float64(t.UnixMilli())
		}
		ch <- prometheus.MustNewConstMetric(lockTimestampDesc, prometheus.GaugeValue, ts, chunk.ChunkID)
		ch <- prometheus.MustNewConstMetric(contributionsDesc, prometheus.GaugeValue, float64(len(chunk.Contributions)), chunk.ChunkID)
	}
}
