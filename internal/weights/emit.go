package weights

import "fmt"

// U16Max is the integer weight ceiling used by the consensus layer.
const U16Max = 65535

// ConvertForEmit converts a weight vector into its integer wire
// representation. Weights that round to zero are dropped; raw magnitudes are
// not rescaled.
func ConvertForEmit(v Vector) ([]int, []uint16, error) {
	if len(v.UIDs) != len(v.Values) {
		return nil, nil, fmt.Errorf("uids and weights length mismatch: %d vs %d", len(v.UIDs), len(v.Values))
	}

	var uids []int
	var vals []uint16

	for i, w := range v.Values {
		if w < 0 {
			return nil, nil, fmt.Errorf("negative weight %g for uid %d", w, v.UIDs[i])
		}
		if v.UIDs[i] < 0 {
			return nil, nil, fmt.Errorf("negative uid %d", v.UIDs[i])
		}

		scaled := w*U16Max + 0.5
		if scaled > U16Max {
			scaled = U16Max
		}
		val := uint16(scaled)
		if val == 0 {
			continue
		}
		uids = append(uids, v.UIDs[i])
		vals = append(vals, val)
	}

	return uids, vals, nil
}
