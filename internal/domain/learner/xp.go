package learner

// ══════════════════════════════════════════════════════════════════════════════
// XP CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// Множители хранятся в десятых и сотых, чтобы результат не зависел от float.
const (
	firstAttemptMultiplier = 15  // ×1.5, в десятых
	repeatMultiplier       = 10  // ×1.0, в десятых
	streakBonusCap         = 10  // бонус серии не больше +100%
	categoryMultiplier     = 125 // ×1.25, в сотых
	plainMultiplier        = 100 // ×1.0, в сотых

	// xpDenominator = 10 (попытка) × 10 (серия) × 100 (категория).
	xpDenominator = 10 * 10 * 100
)

// ComputeXP вычисляет XP за завершение урока:
//
//	round(base × (1.5 | 1.0) × (1 + min(streak, 10) × 0.1) × (1.25 | 1.0))
//
// Округление к ближайшему целому, половина вверх. Результат не бывает
// отрицательным. Функция чистая.
func ComputeXP(baseXP int, isFirstAttempt bool, streak int, completesCategory bool) int {
	if baseXP <= 0 {
		return 0
	}

	attempt := repeatMultiplier
	if isFirstAttempt {
		attempt = firstAttemptMultiplier
	}

	streakTenths := 10 + min(max(streak, 0), streakBonusCap)

	category := plainMultiplier
	if completesCategory {
		category = categoryMultiplier
	}

	num := int64(baseXP) * int64(attempt) * int64(streakTenths) * int64(category)
	return int((num + xpDenominator/2) / xpDenominator)
}
