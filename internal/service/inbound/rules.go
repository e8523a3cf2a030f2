package inbound

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/domain"
)

// Decision is the routing outcome for one call.
type Decision struct {
	Action domain.ActionType   `json:"action"`
	Config domain.ActionConfig `json:"config"`
	RuleID string              `json:"rule_id,omitempty"`
	Reason string              `json:"reason"`
}

// decide applies, in order: the business-hours override, the first matching
// active rule by descending priority, then the default action.
func (s *Service) decide(ctx context.Context, call domain.InboundCall, cfg domain.InboundConfig, rules []domain.RoutingRule) Decision {
	now := s.now()
	if !cfg.BusinessHours.Open(now) {
		return Decision{
			Action: domain.ActionVoicemail,
			Config: domain.ActionConfig{Message: cfg.Voice.VoicemailPrompt},
			Reason: "outside business hours",
		}
	}

	active := make([]domain.RoutingRule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })

	for _, rule := range active {
		if s.matches(ctx, call, cfg, rule.Condition) {
			return Decision{Action: rule.Action.Type, Config: rule.Action.Config, RuleID: rule.ID, Reason: "rule " + rule.ID}
		}
	}

	action := cfg.Routing.DefaultAction
	if !action.Valid() {
		action = domain.ActionAIAgent
	}
	return Decision{
		Action: action,
		Config: domain.ActionConfig{Greeting: cfg.Voice.Greeting, VoiceModelID: cfg.Voice.VoiceModelID},
		Reason: "default action",
	}
}

func (s *Service) matches(ctx context.Context, call domain.InboundCall, cfg domain.InboundConfig, cond domain.RuleCondition) bool {
	switch cond.Type {
	case domain.ConditionTimeBased:
		if cond.Time == nil {
			return false
		}
		local := s.now().In(domain.LoadLocation(cfg.BusinessHours.Timezone))
		return cond.Time.Schedule.Contains(local)

	case domain.ConditionCallerID:
		if cond.CallerID == nil {
			return false
		}
		matched := false
		for _, pattern := range cond.CallerID.Patterns {
			if s.wildcard(pattern).MatchString(call.From) {
				matched = true
				break
			}
		}
		if cond.CallerID.Mode == domain.CallerIDBlacklist {
			return !matched
		}
		return matched

	case domain.ConditionQueueLength:
		if cond.QueueLength == nil || s.queue == nil {
			return false
		}
		return s.queue.Size(call.BusinessID) >= cond.QueueLength.Threshold

	case domain.ConditionKeyword:
		transcript := strings.ToLower(call.Metadata["transcript"])
		if cond.Keyword == nil || transcript == "" {
			return false
		}
		for _, kw := range cond.Keyword.Keywords {
			if kw != "" && strings.Contains(transcript, strings.ToLower(kw)) {
				return true
			}
		}
		return false

	case domain.ConditionCallerHistory:
		if cond.CallerHistory == nil || s.callLog == nil {
			return false
		}
		n, err := s.callLog.CountInboundFrom(ctx, call.BusinessID, call.From)
		if err != nil {
			s.logger.Warn("caller history unavailable", zap.String("business_id", call.BusinessID), zap.Error(err))
			return false
		}
		return n >= cond.CallerHistory.MinPreviousCalls
	}
	return false
}

// wildcard compiles a caller-id pattern where * matches any run of
// characters and everything else is literal. The match is anchored.
func (s *Service) wildcard(pattern string) *regexp.Regexp {
	if re, ok := s.patterns.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re := regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
	s.patterns.Store(pattern, re)
	return re
}
