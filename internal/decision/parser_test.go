package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/perpfunk/internal/db"
)

const holdJSON = `{"action":"HOLD","coin":"BTC","size_usd":0,"leverage":1,"stop_loss_price":0,"take_profit_price":0,"confidence":0.5,"reasoning":"range-bound"}`

func TestParse_Extraction(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"json fence", "The market looks flat.\n```json\n" + holdJSON + "\n```\n"},
		{"generic fence", "Holding for now.\n```\n" + holdJSON + "\n```"},
		{"raw object", "I will hold this cycle. " + holdJSON},
		{"object after stray brace", "Note {not json} then " + holdJSON},
		{"chain of thought sections", "CHAIN_OF_THOUGHT:\nMomentum is fading.\n\nTRADING_DECISIONS:\n```json\n" + holdJSON + "\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, db.ActionHold, d.Action)
			assert.Equal(t, "BTC", d.Coin)
			assert.Equal(t, 0.5, d.Confidence)
			assert.Equal(t, "range-bound", d.Reasoning)
		})
	}
}

func TestParse_FirstValidObjectWins(t *testing.T) {
	text := "```json\n" + holdJSON + "\n```\nAlso repeated below:\n" + holdJSON
	d, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, db.ActionHold, d.Action)
}

func TestParse_AmbiguousDualFormatRejected(t *testing.T) {
	text := "```json\n" + holdJSON + "\n```\n" +
		"TRADING_DECISIONS:\n```json\n" +
		`{"action":"OPEN_LONG","coin":"BTC","size_usd":1500,"leverage":5,"confidence":0.7,"reasoning":"trend"}` +
		"\n```"
	_, err := Parse(text)
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestParse_NoObject(t *testing.T) {
	tests := []string{
		"",
		"I cannot decide right now.",
		"```json\nnot json at all\n```",
		`{"action": }`,
	}
	for _, text := range tests {
		_, err := Parse(text)
		assert.ErrorIs(t, err, ErrNoDecision, "text: %q", text)
	}
}

func TestParse_StringNumbersRejected(t *testing.T) {
	// Numeric fields must be numbers, not strings
	text := `{"action":"OPEN_LONG","coin":"BTC","size_usd":"1500","leverage":5,"confidence":0.7,"reasoning":"x"}`
	_, err := Parse(text)
	assert.ErrorIs(t, err, ErrNoDecision)
}

func TestValidateSchema(t *testing.T) {
	whitelist := []string{"BTC", "ETH"}

	valid := &Decision{Action: db.ActionOpenLong, Coin: "BTC", SizeUSD: 1500, Leverage: 5, Confidence: 0.7}
	assert.NoError(t, ValidateSchema(valid, whitelist))

	tests := []struct {
		name   string
		mutate func(*Decision)
	}{
		{"unknown action", func(d *Decision) { d.Action = "YOLO" }},
		{"coin not whitelisted", func(d *Decision) { d.Coin = "DOGE" }},
		{"zero size on open", func(d *Decision) { d.SizeUSD = 0 }},
		{"leverage too high", func(d *Decision) { d.Leverage = 51 }},
		{"leverage zero", func(d *Decision) { d.Leverage = 0 }},
		{"confidence above one", func(d *Decision) { d.Confidence = 1.5 }},
		{"negative confidence", func(d *Decision) { d.Confidence = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := *valid
			tt.mutate(&d)
			assert.Error(t, ValidateSchema(&d, whitelist))
		})
	}

	t.Run("hold with zeros is valid", func(t *testing.T) {
		hold := &Decision{Action: db.ActionHold, Coin: "BTC", Confidence: 0.5}
		assert.NoError(t, ValidateSchema(hold, whitelist))
	})
}

func TestValidate_BusinessRules(t *testing.T) {
	baseCtx := func() *AgentContext {
		return &AgentContext{
			MaxPositionSizePct: 20,
			MaxLeverage:        10,
			AccountValue:       10000,
			CurrentPrice:       50000,
		}
	}

	t.Run("open long within caps", func(t *testing.T) {
		d := &Decision{Action: db.ActionOpenLong, Coin: "BTC", SizeUSD: 1500, Leverage: 5,
			StopLossPrice: 49000, TakeProfitPrice: 52500, Confidence: 0.7}
		assert.NoError(t, Validate(d, baseCtx()))
	})

	t.Run("size above agent cap", func(t *testing.T) {
		d := &Decision{Action: db.ActionOpenShort, Coin: "BTC", SizeUSD: 3000, Leverage: 5}
		err := Validate(d, baseCtx())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds agent cap")
	})

	t.Run("leverage above agent cap", func(t *testing.T) {
		d := &Decision{Action: db.ActionOpenLong, Coin: "BTC", SizeUSD: 1000, Leverage: 20}
		assert.Error(t, Validate(d, baseCtx()))
	})

	t.Run("double open rejected", func(t *testing.T) {
		agentCtx := baseCtx()
		agentCtx.HasOpenPosition = true
		d := &Decision{Action: db.ActionOpenLong, Coin: "BTC", SizeUSD: 1000, Leverage: 5}
		assert.Error(t, Validate(d, agentCtx))
	})

	t.Run("close without position", func(t *testing.T) {
		d := &Decision{Action: db.ActionClosePosition, Coin: "ETH"}
		err := Validate(d, baseCtx())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no open position")
	})

	t.Run("close with position", func(t *testing.T) {
		agentCtx := baseCtx()
		agentCtx.HasOpenPosition = true
		d := &Decision{Action: db.ActionClosePosition, Coin: "BTC"}
		assert.NoError(t, Validate(d, agentCtx))
	})

	t.Run("hold always valid", func(t *testing.T) {
		d := &Decision{Action: db.ActionHold}
		assert.NoError(t, Validate(d, baseCtx()))
	})

	t.Run("stop and take placement", func(t *testing.T) {
		tests := []struct {
			name   string
			action string
			sl, tp float64
			ok     bool
		}{
			{"long correct sides", db.ActionOpenLong, 49000, 52500, true},
			{"long stop above price", db.ActionOpenLong, 51000, 52500, false},
			{"long take below price", db.ActionOpenLong, 49000, 48000, false},
			{"short correct sides", db.ActionOpenShort, 51000, 48000, true},
			{"short stop below price", db.ActionOpenShort, 49000, 48000, false},
			{"short take above price", db.ActionOpenShort, 51000, 52000, false},
			{"zeros mean unset", db.ActionOpenLong, 0, 0, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				d := &Decision{Action: tt.action, Coin: "BTC", SizeUSD: 1000, Leverage: 5,
					StopLossPrice: tt.sl, TakeProfitPrice: tt.tp}
				err := Validate(d, baseCtx())
				if tt.ok {
					assert.NoError(t, err)
				} else {
					assert.Error(t, err)
				}
			})
		}
	})
}
