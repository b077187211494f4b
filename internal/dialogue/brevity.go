package dialogue

import "github.com/stellarlinkco/sentiencex/internal/style"

// ChooseBrevity picks the reply length: micro for very short messages,
// short when the user seems overwhelmed or habitually terse, normal
// otherwise.
func ChooseBrevity(avgTokens, hiddenDistress float64, userTokens int) string {
	switch {
	case userTokens <= 5:
		return style.BrevityMicro
	case hiddenDistress >= 0.75 && userTokens <= 14:
		return style.BrevityShort
	case avgTokens <= 8:
		return style.BrevityShort
	default:
		return style.BrevityNormal
	}
}
