package bitcoin

import (
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
)

// DefaultBnBTries bounds the branch and bound search.
const DefaultBnBTries = 100_000

// SelectionParams describe the transaction the inputs are selected for.
type SelectionParams struct {
	// FeeRate in sat/vB.
	FeeRate float64
	// OutputScripts are the scripts of the payment outputs.
	OutputScripts [][]byte
	ChangeScript  []byte
	DustLimit     btcutil.Amount
}

// Selection is a set of inputs funding a target.
type Selection struct {
	Inputs []UTXO
	Total  btcutil.Amount
	Target btcutil.Amount
	Fee    btcutil.Amount
	// Change is zero when the excess went to the fee.
	Change btcutil.Amount
	// Waste is Total - Target - the fee the transaction needs: the change
	// amount, or the excess paid as fee when there is no change.
	Waste btcutil.Amount
	Size  int64
	VSize int64
}

// Strategy selects inputs. Every successful selection satisfies
// Total >= Target + Fee.
type Strategy interface {
	Name() string
	Select(utxos []UTXO, target btcutil.Amount, p SelectionParams) (*Selection, error)
}

// ParseStrategy maps a strategy name to a Strategy.
//
//nolint:ireturn
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bnb", "branch-and-bound", "optimal":
		return BranchAndBound{}, nil
	case "largest", "largest-first":
		return LargestFirst{}, nil
	case "smallest", "smallest-first":
		return SmallestFirst{}, nil
	default:
		return nil, walleterr.New(walleterr.KindInvalidRequest, "bitcoin.parse_strategy", "unknown coin selection strategy %q", name)
	}
}

// LargestFirst spends the biggest outputs first, which minimizes the input
// count.
type LargestFirst struct{}

func (LargestFirst) Name() string { return "largest-first" }

func (LargestFirst) Select(utxos []UTXO, target btcutil.Amount, p SelectionParams) (*Selection, error) {
	return accumulate(sortedUTXOs(utxos, true), target, p)
}

// SmallestFirst consolidates small outputs.
type SmallestFirst struct{}

func (SmallestFirst) Name() string { return "smallest-first" }

func (SmallestFirst) Select(utxos []UTXO, target btcutil.Amount, p SelectionParams) (*Selection, error) {
	return accumulate(sortedUTXOs(utxos, false), target, p)
}

// BranchAndBound searches the subsets of the UTXOs for the one with the least
// waste. The result of Fallback (LargestFirst by default) is returned instead
// when the search ends with nothing better.
type BranchAndBound struct {
	MaxTries int
	Fallback Strategy
}

func (BranchAndBound) Name() string { return "branch-and-bound" }

func (s BranchAndBound) Select(utxos []UTXO, target btcutil.Amount, p SelectionParams) (*Selection, error) {
	if err := checkSelectable(utxos, target); err != nil {
		return nil, err
	}

	fallback := s.Fallback
	if fallback == nil {
		fallback = LargestFirst{}
	}
	maxTries := s.MaxTries
	if maxTries <= 0 {
		maxTries = DefaultBnBTries
	}

	// outputs that cost more to spend than they are worth never help
	coins := make([]UTXO, 0, len(utxos))
	for _, u := range sortedUTXOs(utxos, true) {
		if u.Value > inputFee(u, p.FeeRate) {
			coins = append(coins, u)
		}
	}

	remaining := make([]btcutil.Amount, len(coins)+1)
	for i := len(coins) - 1; i >= 0; i-- {
		remaining[i] = remaining[i+1] + coins[i].Value
	}
	minTotal := target + baseFee(p)

	var (
		best     *Selection
		tries    int
		selected = make([]UTXO, 0, len(coins))
	)

	var search func(i int, sum btcutil.Amount)
	search = func(i int, sum btcutil.Amount) {
		if tries >= maxTries {
			return
		}
		tries++

		if len(selected) > 0 {
			if sel, ok := evaluate(selected, target, p); ok {
				if best == nil || sel.Waste < best.Waste {
					best = sel
				}
				// More inputs grow the change of a set that has one. A changeless
				// set can still be beaten by a superset that carries change, but
				// only when its own excess is above the dust limit.
				if sel.Change > 0 || sel.Waste <= p.DustLimit {
					return
				}
			}
		}

		if i == len(coins) || sum+remaining[i] < minTotal {
			return
		}

		selected = append(selected, coins[i])
		search(i+1, sum+coins[i].Value)
		selected = selected[:len(selected)-1]

		search(i+1, sum)
	}
	search(0, 0)

	fb, err := fallback.Select(utxos, target, p)
	switch {
	case best == nil && err != nil:
		return nil, err
	case best == nil:
		return fb, nil
	case err == nil && fb.Waste < best.Waste:
		return fb, nil
	default:
		return best, nil
	}
}

func checkSelectable(utxos []UTXO, target btcutil.Amount) error {
	const op = "bitcoin.select"

	if target <= 0 {
		return walleterr.New(walleterr.KindInvalidRequest, op, "target must be positive")
	}
	var est SizeEstimator
	for _, u := range utxos {
		if err := est.AddInput(u.AddressType); err != nil {
			return err
		}
	}
	return nil
}

func accumulate(utxos []UTXO, target btcutil.Amount, p SelectionParams) (*Selection, error) {
	if err := checkSelectable(utxos, target); err != nil {
		return nil, err
	}

	var total btcutil.Amount
	for i := range utxos {
		total += utxos[i].Value
		if sel, ok := evaluate(utxos[:i+1], target, p); ok {
			return sel, nil
		}
	}

	return nil, insufficientFunds(utxos, target, total, p)
}

func insufficientFunds(utxos []UTXO, target, total btcutil.Amount, p SelectionParams) error {
	var est SizeEstimator
	for _, u := range utxos {
		_ = est.AddInput(u.AddressType)
	}
	for _, script := range p.OutputScripts {
		est.AddOutput(script)
	}
	return walleterr.New(walleterr.KindInsufficientFunds, "bitcoin.select",
		"%d spendable outputs hold %s, need %s plus a fee of at least %s",
		len(utxos), total, target, FeeForVSize(est.VSize(), p.FeeRate))
}

// evaluate prices inputs paying target. A change output is added when the
// excess over the fee with change is above the dust limit; otherwise the
// excess is left to the fee.
func evaluate(inputs []UTXO, target btcutil.Amount, p SelectionParams) (*Selection, bool) {
	var (
		est   SizeEstimator
		total btcutil.Amount
	)
	for _, u := range inputs {
		if err := est.AddInput(u.AddressType); err != nil {
			return nil, false
		}
		total += u.Value
	}
	for _, script := range p.OutputScripts {
		est.AddOutput(script)
	}

	sizeNoChange, vsizeNoChange := est.Size(), est.VSize()
	feeNoChange := FeeForVSize(vsizeNoChange, p.FeeRate)
	if total < target+feeNoChange {
		return nil, false
	}

	est.AddOutput(p.ChangeScript)
	feeWithChange := FeeForVSize(est.VSize(), p.FeeRate)

	sel := &Selection{
		Inputs: append([]UTXO(nil), inputs...),
		Total:  total,
		Target: target,
	}

	if change := total - target - feeWithChange; change > p.DustLimit {
		sel.Fee = feeWithChange
		sel.Change = change
		sel.Waste = change
		sel.Size, sel.VSize = est.Size(), est.VSize()
		return sel, true
	}

	sel.Fee = total - target
	sel.Waste = total - target - feeNoChange
	sel.Size, sel.VSize = sizeNoChange, vsizeNoChange
	return sel, true
}

func inputFee(u UTXO, rate float64) btcutil.Amount {
	var est SizeEstimator
	if err := est.AddInput(u.AddressType); err != nil {
		return 0
	}
	// only the input itself, without the transaction overhead
	return FeeForVSize(VSizeForWeight(est.baseSize*witnessScaleFactor+est.witnessSize), rate)
}

// baseFee is the fee of the payment outputs alone, a lower bound for any
// selection.
func baseFee(p SelectionParams) btcutil.Amount {
	var est SizeEstimator
	for _, script := range p.OutputScripts {
		est.AddOutput(script)
	}
	return FeeForVSize(est.VSize(), p.FeeRate)
}

func sortedUTXOs(utxos []UTXO, descending bool) []UTXO {
	out := append([]UTXO(nil), utxos...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			if descending {
				return out[i].Value > out[j].Value
			}
			return out[i].Value < out[j].Value
		}
		if out[i].TxID != out[j].TxID {
			return out[i].TxID < out[j].TxID
		}
		return out[i].Vout < out[j].Vout
	})
	return out
}
