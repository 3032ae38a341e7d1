// Package student содержит доменную модель студента, участвующего в исследовании.
//
// Пакет определяет:
//
//   - Profile: постоянная память студента (слабые и сильные темы, уровень,
//     заблуждения, заметки о прогрессе)
//   - Store: контракт хранилища профилей и результатов тестирования
//   - Repository: расширенный контракт для выборок по когортам и оценок
//
// # Архитектурные принципы
//
//  1. Нет зависимостей от инфраструктуры - только доменные пакеты
//  2. Dependency Inversion - интерфейсы здесь, реализации в infrastructure/persistence
//  3. Rich Domain Model - инварианты профиля защищены методами
//
// # Инварианты профиля
//
// Профиль никогда не удаляется. Заметки о прогрессе только добавляются.
// Заблуждения дедуплицируются по тегу: повторное обнаружение обновляет
// LastSeen и Count, но не создаёт новую запись.
//
//	profile, err := NewProfile(NewProfileParams{
//	    ID:     "STU001",
//	    Cohort: shared.CohortTutor,
//	})
//	if err != nil {
//	    return err
//	}
//
//	m, isNew := profile.RecordMisconception("inverse_as_reciprocal", time.Now())
package student
