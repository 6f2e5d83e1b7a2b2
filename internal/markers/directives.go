package markers

// reservedDirectives is the full in-band control vocabulary the core
// recognizes by name. Anything else is still fired as an Event (for
// the caller's handler to act on or ignore) but is logged as unknown.
var reservedDirectives = map[string]bool{
	"model-change": true,
	"thinking":     true,
	"think":        true,
	"relax":        true,
	"importance":   true,
	"ref":          true,
	"unref":        true,
	"max-context":  true,
	"working":      true,
	"page":         true,
	"memory":       true,
	"sleep":        true,
	"listening":    true,
	"wake":         true,
	"view":         true,
	"sense":        true,
	"resummarize":  true,
	"learn":        true,
}

// emotionDimensions are the fixed set of colon/avatar-form names that
// require a numeric argument in [0,1].
var emotionDimensions = map[string]bool{
	"joy":          true,
	"sadness":      true,
	"anger":        true,
	"fear":         true,
	"surprise":     true,
	"disgust":      true,
	"trust":        true,
	"anticipation": true,
}

// emojiTable maps a marker name to the single glyph that replaces it
// in the clean stream. Unlisted names fall back to defaultEmoji.
var emojiTable = map[string]string{
	"model-change": "🔀",
	"thinking":     "🧠",
	"think":        "🧠",
	"relax":        "😌",
	"importance":   "⭐",
	"ref":          "📎",
	"unref":        "📎",
	"max-context":  "📐",
	"working":      "📐",
	"page":         "📄",
	"memory":       "💾",
	"sleep":        "😴",
	"listening":    "👂",
	"wake":         "⏰",
	"view":         "🖼️",
	"sense":        "🎛️",
	"resummarize":  "♻️",
	"learn":        "📚",
	"joy":          "😊",
	"sadness":      "😢",
	"anger":        "😠",
	"fear":         "😨",
	"surprise":     "😲",
	"disgust":      "🤢",
	"trust":        "🤝",
	"anticipation": "👀",
}

const defaultEmoji = "✨"

func emojiFor(name string) string {
	if e, ok := emojiTable[name]; ok {
		return e
	}
	return defaultEmoji
}

// IsReserved reports whether name is one of the core's control
// directives (always accepted regardless of argument form).
func IsReserved(name string) bool {
	return reservedDirectives[name]
}

// IsEmotionDimension reports whether name is one of the fixed emotion
// dimensions that require a [0,1] numeric argument.
func IsEmotionDimension(name string) bool {
	return emotionDimensions[name]
}

// ThinkingBudget tracks the scalar thinking-budget dimension: a value
// in [0,1] selecting a model tier, which regresses toward the midpoint
// each round it isn't refreshed by a think/relax/thinking(x) directive.
type ThinkingBudget struct {
	Value float64
}

// NewThinkingBudget starts at the midpoint tier.
func NewThinkingBudget() *ThinkingBudget {
	return &ThinkingBudget{Value: 0.5}
}

// Set assigns an explicit value, clamped to [0,1].
func (t *ThinkingBudget) Set(x float64) {
	t.Value = clamp01(x)
}

// Think nudges the budget up by 0.3, capped at 1.0.
func (t *ThinkingBudget) Think() {
	t.Value = clamp01(t.Value + 0.3)
}

// Relax nudges the budget down by 0.3, floored at 0.0.
func (t *ThinkingBudget) Relax() {
	t.Value = clamp01(t.Value - 0.3)
}

// RegressTowardMidpoint closes 20% of the gap to 0.5. Call once per
// round in which the budget was not refreshed by a directive.
func (t *ThinkingBudget) RegressTowardMidpoint() {
	t.Value += (0.5 - t.Value) * 0.2
}

// Tier maps the current value to one of three model tiers.
func (t *ThinkingBudget) Tier() string {
	switch {
	case t.Value < 0.25:
		return "low"
	case t.Value < 0.65:
		return "mid"
	default:
		return "high"
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
