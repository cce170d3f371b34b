package scoring

import "github.com/vigilmc/vigil/internal/models"

// NormalizedPower computes a per-entity player power value in [0, 1] from
// every entity's latest report this cycle, before anti-spoof filtering.
//
// A player claimed by several entities contributes the average of the powers
// those entities report for them, split evenly across the claimers. This
// dampens inflated self-reports and prevents reward duplication when
// colluding entities claim the same player. Totals are then normalized
// against the cycle maximum, so power is relative, not absolute.
func NormalizedPower(latest map[string]models.Report) map[string]float64 {
	out := make(map[string]float64, len(latest))
	for id := range latest {
		out[id] = 0
	}

	type claim struct {
		serverID string
		power    float64
	}
	claims := make(map[string][]claim)

	for id, report := range latest {
		for _, player := range report.Payload.ActivePlayers {
			if player.Power <= 0 {
				continue
			}
			key := playerKey(player)
			if key == "" {
				continue
			}
			claims[key] = append(claims[key], claim{serverID: id, power: player.Power})
		}
	}

	totals := make(map[string]float64, len(latest))
	for _, list := range claims {
		var sum float64
		for _, c := range list {
			sum += c.power
		}
		share := sum / float64(len(list)) / float64(len(list))
		for _, c := range list {
			totals[c.serverID] += share
		}
	}

	var max float64
	for _, total := range totals {
		if total > max {
			max = total
		}
	}
	if max <= 0 {
		return out
	}

	for id, total := range totals {
		out[id] = total / max
	}
	return out
}

// playerKey returns the stable identity for a player, preferring the UUID
// over the display name and skipping the null-UUID sentinel.
func playerKey(p models.ActivePlayer) string {
	if p.UUID != "" && p.UUID != models.NullPlayerID {
		return p.UUID
	}
	return p.Name
}
