package combat

import "questline/internal/domain"

// ApplyModifiers sums stat modifiers across every condition still attached to
// the actor. Conditions are removed only by OnRoundAdvance, so everything
// present counts. The input is not modified.
func ApplyModifiers(conditions []domain.Condition) map[string]int {
	out := map[string]int{}
	for _, c := range conditions {
		for stat, v := range c.StatModifiers {
			out[stat] += v
		}
	}
	return out
}

// OnRoundAdvance decrements every condition by one round and splits off the
// ones that ran out. It must run exactly once per round wrap.
func OnRoundAdvance(conditions []domain.Condition) (kept, expired []domain.Condition) {
	kept = make([]domain.Condition, 0, len(conditions))
	for _, c := range conditions {
		c.RoundsRemaining--
		if c.RoundsRemaining <= 0 {
			c.RoundsRemaining = 0
			expired = append(expired, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, expired
}

// MergeConditions folds a fresh snapshot from the condition source into the
// encounter's conditions. Known keys keep their in-encounter countdown, keys
// that already expired in this encounter stay gone, new keys are appended.
func MergeConditions(current, fresh []domain.Condition, expiredKeys []string) []domain.Condition {
	known := make(map[string]bool, len(current)+len(expiredKeys))
	for _, c := range current {
		known[c.Key()] = true
	}
	for _, k := range expiredKeys {
		known[k] = true
	}
	out := append([]domain.Condition(nil), current...)
	for _, c := range fresh {
		if known[c.Key()] {
			continue
		}
		known[c.Key()] = true
		out = append(out, c)
	}
	return out
}
