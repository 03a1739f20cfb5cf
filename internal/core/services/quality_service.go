package services

import (
	"fmt"
	"sort"

	"sfulink/internal/core/domain"
)

// QualityThreshold constrains publishers to Profile once at least Publishers are live
type QualityThreshold struct {
	Publishers int    `yaml:"publishers"`
	Profile    string `yaml:"profile"`
}

// QualityConfig configures the threshold controller
type QualityConfig struct {
	Enabled        bool
	Profiles       []domain.Profile
	Thresholds     []QualityThreshold
	PrivilegeFloor bool
}

// QualityService selects a profile tier from the number of live publishers.
// Tier 0 is unconstrained; tier i applies Thresholds[i-1].
type QualityService struct {
	enabled        bool
	profiles       map[string]domain.Profile
	thresholds     []QualityThreshold
	privilegeFloor bool

	tier  int
	floor domain.StreamID
}

func NewQualityService(cfg QualityConfig) (*QualityService, error) {
	profiles := make(map[string]domain.Profile, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profiles[p.ID] = p
	}

	thresholds := append([]QualityThreshold(nil), cfg.Thresholds...)
	sort.SliceStable(thresholds, func(i, j int) bool {
		return thresholds[i].Publishers < thresholds[j].Publishers
	})
	for _, t := range thresholds {
		if _, ok := profiles[t.Profile]; !ok {
			return nil, fmt.Errorf("quality threshold at %d publishers references unknown profile %q", t.Publishers, t.Profile)
		}
	}

	return &QualityService{
		enabled:        cfg.Enabled,
		profiles:       profiles,
		thresholds:     thresholds,
		privilegeFloor: cfg.PrivilegeFloor,
	}, nil
}

// ResolveTier maps a publisher count to its tier
func (qs *QualityService) ResolveTier(publishers int) int {
	if !qs.enabled {
		return 0
	}
	tier := 0
	for i, t := range qs.thresholds {
		if publishers >= t.Publishers {
			tier = i + 1
		}
	}
	return tier
}

// Evaluate records the publisher count and floor stream. changed is true when
// publisher profiles must be reapplied; reapplying the same tier and floor is a no-op.
func (qs *QualityService) Evaluate(publishers int, floor domain.StreamID) (tier int, changed bool) {
	tier = qs.ResolveTier(publishers)
	if tier == qs.tier && (!qs.privilegeFloor || floor == qs.floor) {
		return tier, false
	}
	qs.tier = tier
	qs.floor = floor
	return tier, true
}

// Tier returns the current tier
func (qs *QualityService) Tier() int {
	return qs.tier
}

// ProfileFor returns the profile a publisher should use under the current tier
func (qs *QualityService) ProfileFor(streamID domain.StreamID, original domain.Profile) domain.Profile {
	if qs.tier == 0 {
		return original
	}
	if qs.privilegeFloor && streamID != "" && streamID == qs.floor {
		return original
	}
	return qs.profiles[qs.thresholds[qs.tier-1].Profile]
}

// Profile looks up a configured profile by id
func (qs *QualityService) Profile(id string) (domain.Profile, bool) {
	p, ok := qs.profiles[id]
	return p, ok
}
