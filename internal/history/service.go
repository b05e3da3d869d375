package history

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Service orchestrates the two passes over a log.
type Service struct {
	harvester *Harvester
	gaps      *GapFiller
}

// NewService creates a new Service.
func NewService(fetcher PageFetcher, parser TableParser, store Store) *Service {
	return &Service{
		harvester: NewHarvester(fetcher, parser, store),
		gaps:      NewGapFiller(store),
	}
}

// Request describes one harvest.
type Request struct {
	Station string `json:"station"`
	Start   Date   `json:"start"`
	End     Date   `json:"end"`

	// SkipGapFill leaves the pass-1 log as written.
	SkipGapFill bool `json:"skipGapFill,omitempty"`
}

// RunResult reports both passes.
type RunResult struct {
	Harvest HarvestResult  `json:"harvest"`
	GapFill *GapFillResult `json:"gapFill,omitempty"`
	Elapsed time.Duration  `json:"elapsed"`
}

// Run harvests the requested range and then gap-fills the resulting log.
func (s *Service) Run(ctx context.Context, req Request) (RunResult, error) {
	name, err := NewLogName(req.Station, req.Start, req.End)
	if err != nil {
		return RunResult{}, err
	}

	log.Printf("INFO: starting download of %s", name)
	started := time.Now()

	hres, err := s.harvester.Harvest(ctx, name)
	out := RunResult{Harvest: hres}
	if err != nil {
		out.Elapsed = time.Since(started)
		log.Printf("ERROR: harvest of %s stopped after %s (next day %s): %v", name, hres.Last, hres.Next, err)
		return out, err
	}
	log.Printf("INFO: finished downloading %s in %s (%d windows, %d records, %d placeholders)",
		name, hres.Elapsed.Round(time.Millisecond), hres.Windows, hres.Records, hres.Placeholders)

	if !req.SkipGapFill {
		gres, err := s.gaps.Fill(ctx, name)
		out.GapFill = &gres
		if err != nil {
			out.Elapsed = time.Since(started)
			return out, err
		}
	}

	out.Elapsed = time.Since(started)
	log.Printf("INFO: entire process for %s took %s", name, out.Elapsed.Round(time.Millisecond))
	return out, nil
}

// Resume continues an interrupted pass-1 log and gap-fills it once complete.
func (s *Service) Resume(ctx context.Context, name LogName, gapFill bool) (RunResult, error) {
	started := time.Now()

	hres, err := s.harvester.Resume(ctx, name)
	out := RunResult{Harvest: hres}
	if err != nil {
		out.Elapsed = time.Since(started)
		return out, err
	}

	if gapFill {
		gres, err := s.gaps.Fill(ctx, name)
		out.GapFill = &gres
		if err != nil {
			out.Elapsed = time.Since(started)
			return out, err
		}
	}

	out.Elapsed = time.Since(started)
	return out, nil
}

// GapFill runs pass 2 alone on an existing log.
func (s *Service) GapFill(ctx context.Context, name LogName) (GapFillResult, error) {
	if name.End.Before(name.Start) {
		return GapFillResult{Log: name}, fmt.Errorf("%w: end %s precedes start %s", ErrInvalidRange, name.End, name.Start)
	}
	return s.gaps.Fill(ctx, name)
}
