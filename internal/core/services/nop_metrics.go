package services

import (
	"time"

	"sfulink/internal/core/domain"
)

// NopMetrics discards every measurement
type NopMetrics struct{}

func (NopMetrics) SessionTransition(domain.Role, domain.SessionState, domain.SessionState) {}
func (NopMetrics) ReconnectScheduled(domain.StreamID, time.Duration)                       {}
func (NopMetrics) NegotiationCompleted(domain.Role, time.Duration)                         {}
func (NopMetrics) NotificationRaised(string)                                               {}
func (NopMetrics) ICECandidateBuffered(string)                                             {}
func (NopMetrics) QualityTierChanged(int)                                                  {}
func (NopMetrics) ObserveRTT(time.Duration)                                                {}
func (NopMetrics) ConnectionLevelChanged(domain.ConnectionLevel)                           {}
func (NopMetrics) QueuedMessages(int)                                                      {}
