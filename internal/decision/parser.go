package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ajitpratap0/perpfunk/internal/db"
)

// ErrNoDecision means no syntactically valid decision object was found
var ErrNoDecision = errors.New("no valid decision object in llm output")

// ErrAmbiguous means the output mixed both task formats; rather than guess
// which decision the model meant, the whole output is rejected
var ErrAmbiguous = errors.New("ambiguous llm output: multiple conflicting decision objects")

// Decision is a parsed, schema-valid trading decision
type Decision struct {
	Action          string  `json:"action"`
	Coin            string  `json:"coin"`
	SizeUSD         float64 `json:"size_usd"`
	Leverage        int     `json:"leverage"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
}

// IsHold reports whether the decision requires no order
func (d *Decision) IsHold() bool { return d.Action == db.ActionHold }

// IsOpen reports whether the decision opens a position
func (d *Decision) IsOpen() bool {
	return d.Action == db.ActionOpenLong || d.Action == db.ActionOpenShort
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")
var fencedAny = regexp.MustCompile("(?s)```\\s*(.*?)```")

// Parse extracts the decision object from raw LLM text. It accepts a
// ```json fence, a generic fence, or a bare object, taking the first
// syntactically valid one. Output carrying both a TRADING_DECISIONS section
// and a separate conflicting object is rejected as ambiguous.
func Parse(text string) (*Decision, error) {
	candidates := candidateBlocks(text)
	if len(candidates) == 0 {
		return nil, ErrNoDecision
	}

	var decisions []*Decision
	for _, block := range candidates {
		if d := tryDecode(block); d != nil {
			decisions = append(decisions, d)
		}
	}
	if len(decisions) == 0 {
		return nil, ErrNoDecision
	}

	first := decisions[0]
	for _, d := range decisions[1:] {
		if !sameDecision(first, d) {
			return nil, ErrAmbiguous
		}
	}
	return first, nil
}

// candidateBlocks collects the text regions that may hold the object, in
// preference order
func candidateBlocks(text string) []string {
	var blocks []string
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		blocks = append(blocks, m[1])
	}
	for _, m := range fencedAny.FindAllStringSubmatch(text, -1) {
		if !strings.HasPrefix(strings.TrimSpace(m[0]), "```json") {
			blocks = append(blocks, m[1])
		}
	}
	blocks = append(blocks, text)
	return blocks
}

// tryDecode scans a block for the first decodable decision object
func tryDecode(block string) *Decision {
	for start := strings.IndexByte(block, '{'); start >= 0; {
		dec := json.NewDecoder(strings.NewReader(block[start:]))
		var d Decision
		if err := dec.Decode(&d); err == nil && d.Action != "" {
			return &d
		}
		next := strings.IndexByte(block[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return nil
}

func sameDecision(a, b *Decision) bool {
	return a.Action == b.Action && a.Coin == b.Coin &&
		a.SizeUSD == b.SizeUSD && a.Leverage == b.Leverage
}

// validActions is the allowed action set
var validActions = map[string]bool{
	db.ActionOpenLong:      true,
	db.ActionOpenShort:     true,
	db.ActionClosePosition: true,
	db.ActionHold:          true,
}

// ValidateSchema checks field-level bounds independent of account state
func ValidateSchema(d *Decision, coinWhitelist []string) error {
	if !validActions[d.Action] {
		return fmt.Errorf("unknown action %q", d.Action)
	}
	if d.Action == db.ActionHold {
		return nil
	}

	if !containsCoin(coinWhitelist, d.Coin) {
		return fmt.Errorf("coin %q is not in the configured whitelist", d.Coin)
	}
	if d.IsOpen() {
		if d.SizeUSD <= 0 {
			return fmt.Errorf("size_usd must be positive, got %v", d.SizeUSD)
		}
		if d.Leverage < 1 || d.Leverage > 50 {
			return fmt.Errorf("leverage %d outside [1, 50]", d.Leverage)
		}
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", d.Confidence)
	}
	return nil
}

func containsCoin(whitelist []string, coin string) bool {
	for _, c := range whitelist {
		if c == coin {
			return true
		}
	}
	return false
}
