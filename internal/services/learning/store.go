// Package learning accumulates per-zone field-capacity and efficiency data
// from characterization runs and serves it back to shot sizing. Jobs are
// mutually exclusive per zone and rate-limited so the plants are never
// stressed by back-to-back test sequences.
package learning

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/stewnight/cropsteer/internal/model"
)

// Job rate limits: field capacity once per day, efficiency once per week.
const (
	capacityRunInterval   = 24 * time.Hour
	efficiencyRunInterval = 7 * 24 * time.Hour
)

type Store struct {
	mu       sync.Mutex
	path     string
	profiles map[string]*model.ZoneLearningProfile
	active   map[string]string // zone -> running job name
	now      func() time.Time
}

// NewStore opens (or creates) the profile store backed by a JSON file.
// A missing file is a fresh store; a corrupt one is an error.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		profiles: make(map[string]*model.ZoneLearningProfile),
		active:   make(map[string]string),
		now:      time.Now,
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read learning profiles: %w", err)
	}
	var list []*model.ZoneLearningProfile
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse learning profiles: %w", err)
	}
	for _, p := range list {
		// A run interrupted by a restart is not still running.
		if p.Status == model.LearningActive {
			p.Status = model.LearningUnlearned
		}
		s.profiles[p.Zone] = p
	}
	return s, nil
}

// Profile returns a copy of the zone's profile, safe for read-only use by
// the shot calculator.
func (s *Store) Profile(zone string) (*model.ZoneLearningProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[zone]
	if !ok {
		return nil, false
	}
	cp := *p
	cp.Efficiency = append([]model.EfficiencySample(nil), p.Efficiency...)
	return &cp, true
}

// Busy reports whether a characterization job is running for the zone. The
// decision loop defers automatic cycling while it is.
func (s *Store) Busy(zone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.active[zone]
	return busy
}

// begin claims the zone for a job, enforcing mutual exclusion and the
// per-job rate limit.
func (s *Store) begin(zone, job string, minInterval time.Duration, lastRun func(*model.ZoneLearningProfile) time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if running, busy := s.active[zone]; busy {
		return fmt.Errorf("zone %s already characterizing (%s)", zone, running)
	}
	p := s.profiles[zone]
	if p != nil {
		if last := lastRun(p); !last.IsZero() && s.now().Sub(last) < minInterval {
			return fmt.Errorf("zone %s %s ran %s ago, minimum interval %s",
				zone, job, s.now().Sub(last).Round(time.Minute), minInterval)
		}
	}
	if p == nil {
		p = &model.ZoneLearningProfile{Zone: zone, Status: model.LearningUnlearned}
		s.profiles[zone] = p
	}
	p.Status = model.LearningActive
	s.active[zone] = job
	return nil
}

// finish releases the zone and persists the store.
func (s *Store) finish(zone string) {
	s.mu.Lock()
	delete(s.active, zone)
	p := s.profiles[zone]
	if p != nil && p.Status == model.LearningActive {
		if p.FieldCapacityVWC > 0 || len(p.Efficiency) >= 3 {
			p.Status = model.LearningLearned
		} else {
			p.Status = model.LearningUnlearned
		}
	}
	s.mu.Unlock()
	if err := s.save(); err != nil {
		log.Printf("learning: persist profiles: %v", err)
	}
}

// update mutates a profile under the store lock.
func (s *Store) update(zone string, fn func(*model.ZoneLearningProfile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[zone]
	if p == nil {
		p = &model.ZoneLearningProfile{Zone: zone, Status: model.LearningUnlearned}
		s.profiles[zone] = p
	}
	fn(p)
	sort.Slice(p.Efficiency, func(i, j int) bool {
		return p.Efficiency[i].VWCLevel < p.Efficiency[j].VWCLevel
	})
}

// save writes the store atomically (temp file + rename).
func (s *Store) save() error {
	s.mu.Lock()
	list := make([]*model.ZoneLearningProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		list = append(list, p)
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Zone < list[j].Zone })

	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// CalculateOptimalShot is the fast synchronous read against a learned
// profile: the duration that should raise VWC by targetIncrease points,
// clamped to maxShotSeconds. It never starts a characterization run.
func (s *Store) CalculateOptimalShot(zc model.ZoneConfig, currentVWC, targetIncrease, maxShotSeconds float64) (model.OptimalShotEvent, error) {
	if targetIncrease <= 0 {
		return model.OptimalShotEvent{}, fmt.Errorf("target vwc increase must be > 0")
	}
	p, ok := s.Profile(zc.ID)
	if !ok || p.Status != model.LearningLearned {
		return model.OptimalShotEvent{}, fmt.Errorf("zone %s has no learned profile", zc.ID)
	}
	gain, ok := p.GainPerLiterAt(currentVWC)
	if !ok || gain <= 0 {
		return model.OptimalShotEvent{}, fmt.Errorf("zone %s efficiency curve unusable", zc.ID)
	}
	flowLph := zc.DripperFlowLph * float64(zc.DripperCount)
	if flowLph <= 0 {
		return model.OptimalShotEvent{}, fmt.Errorf("zone %s has no usable flow", zc.ID)
	}
	seconds := targetIncrease / gain / flowLph * 3600.0
	if seconds > maxShotSeconds {
		seconds = maxShotSeconds
	}
	return model.OptimalShotEvent{
		Zone:                   zc.ID,
		OptimalDurationSeconds: seconds,
		TargetVWCIncrease:      targetIncrease,
		Confidence:             p.FieldCapacityConfidence,
		Timestamp:              s.now(),
	}, nil
}
