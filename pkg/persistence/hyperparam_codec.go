package persistence

import (
	"fmt"

	"github.com/alvtron/pbtgo/pkg/hyperparam"
	"github.com/vmihailenco/msgpack/v5"
)

// hpRecord is the on-disk shape of a single Hyperparameter, carrying
// enough to reconstruct it exactly via hyperparam.NewContinuousRaw /
// NewDiscreteRaw rather than round-tripping through a domain value
// (which would lose precision for a discrete index or a clipped
// continuous coordinate).
type hpRecord struct {
	Kind          string  `msgpack:"kind"`
	ContMin       float64 `msgpack:"cont_min"`
	ContMax       float64 `msgpack:"cont_max"`
	ContInteger   bool    `msgpack:"cont_integer"`
	DiscreteSpace []any   `msgpack:"discrete_space,omitempty"`
	Normalized    float64 `msgpack:"normalized"`
	Constraint    string  `msgpack:"constraint"`
}

type groupRecord struct {
	Name   string              `msgpack:"name"`
	Order  []string            `msgpack:"order"`
	Params map[string]hpRecord `msgpack:"params"`
}

func encodeHyperparameters(hs *hyperparam.Hyperparameters) ([]byte, error) {
	groups := make([]groupRecord, 0, len(hs.Groups()))
	for _, name := range hs.Groups() {
		names := hs.GroupNames(name)
		gr := groupRecord{Name: name, Order: names, Params: make(map[string]hpRecord, len(names))}
		for _, n := range names {
			hp, err := hs.Get(name + "/" + n)
			if err != nil {
				return nil, err
			}
			gr.Params[n] = toHPRecord(hp)
		}
		groups = append(groups, gr)
	}
	return msgpack.Marshal(groups)
}

func decodeHyperparameters(blob []byte) (*hyperparam.Hyperparameters, error) {
	var groups []groupRecord
	if err := msgpack.Unmarshal(blob, &groups); err != nil {
		return nil, err
	}
	hs := hyperparam.New()
	for _, gr := range groups {
		params := make(map[string]*hyperparam.Hyperparameter, len(gr.Order))
		for _, n := range gr.Order {
			rec, ok := gr.Params[n]
			if !ok {
				return nil, fmt.Errorf("persistence: group %q missing parameter %q in record", gr.Name, n)
			}
			hp, err := fromHPRecord(rec)
			if err != nil {
				return nil, fmt.Errorf("persistence: group %q parameter %q: %w", gr.Name, n, err)
			}
			params[n] = hp
		}
		if err := hs.AddGroup(gr.Name, gr.Order, params); err != nil {
			return nil, err
		}
	}
	return hs, nil
}

func toHPRecord(hp *hyperparam.Hyperparameter) hpRecord {
	rec := hpRecord{
		Normalized: hp.Normalized(),
		Constraint: hp.Constraint(),
	}
	if hp.Kind() == hyperparam.Continuous {
		rec.Kind = "continuous"
		rec.ContMin = hp.LowerBound()
		rec.ContMax = hp.UpperBound()
		rec.ContInteger = hp.IsInteger()
	} else {
		rec.Kind = "discrete"
		rec.DiscreteSpace = hp.DiscreteElements()
	}
	return rec
}

func fromHPRecord(rec hpRecord) (*hyperparam.Hyperparameter, error) {
	switch rec.Kind {
	case "continuous":
		return hyperparam.NewContinuousRaw(rec.ContMin, rec.ContMax, rec.ContInteger, rec.Normalized, rec.Constraint)
	case "discrete":
		return hyperparam.NewDiscreteRaw(rec.DiscreteSpace, rec.Normalized, rec.Constraint)
	default:
		return nil, fmt.Errorf("persistence: unknown hyperparameter kind %q", rec.Kind)
	}
}
