// Package lesson содержит машину состояний фаз урока.
//
// Каждый урок проходит четыре фазы в строгом порядке:
//
//	Hook → Teach → Practice → Reward
//
// Попытка (attempt) записывает время завершения каждой фазы в таблицу PhaseLog
// фиксированного размера. Фаза может быть записана только если она является
// непосредственным преемником последней завершённой фазы. Запись фазы Reward
// завершает попытку и возвращает CompletionEvent, который дальше питает
// движок серий, калькулятор XP и проверку достижений (пакет learner).
//
// # Возобновление
//
// Точка возобновления всегда равна LastCompletedPhase.Next(). Позиция
// воспроизведения внутри фазы никогда не сохраняется.
//
// # Повтор урока
//
// Restart очищает таблицу фаз и LastCompletedPhase, увеличивает Attempts.
// IsCompleted и CompletedAt сохраняются: однажды пройденный урок остаётся
// пройденным.
//
// # Архитектурные принципы
//
// Пакет не имеет внешних зависимостей. Все операции чистые: принимают запись
// по значению и возвращают новую. Интерфейсы хранилища (ProgressRepository,
// Catalog) реализуются в infrastructure/persistence.
package lesson
