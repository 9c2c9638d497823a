// Package learner содержит агрегат ученика и правила геймификации.
//
// Пакет определяет:
//
//   - Profile - накопленный XP, серия дней, баланс заморозок
//   - Streak Engine (streak.go) - рост и сброс серии по календарным дням
//   - XP Calculator (xp.go) - чистая функция начисления XP
//   - Achievement Evaluator (achievement.go) - таблица правил достижений
//   - Интерфейсы репозиториев: Repository, AchievementRepository, FamilyActivityRepository
//
// # Поток данных
//
// Завершение урока (lesson.CompletionEvent) применяется через ApplyCompletion:
//
//	next, outcome := learner.ApplyCompletion(profile, event, learner.CompletionInput{
//	    BaseXP:            info.BaseXP,
//	    CompletesCategory: categoryDone,
//	})
//
// Затем по новому состоянию проверяются достижения:
//
//	unlocked := learner.EvaluateAchievements(state, existingKinds, now)
//
// Все функции пакета чистые и не выполняют ввод-вывод.
package learner
