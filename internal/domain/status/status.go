// Пакет status: конечный автомат статусов записи файла.
//
// Жизненный цикл:
//   - Pending → Uploaded → Published | Expired
//   - Pending → Timeout
//   - Pending | Uploaded → Error
//
// Published, Expired, Timeout и Error: конечные статусы.
package status

import "fmt"

// Status: статус записи файла.
type Status string

const (
	// Pending: multipart-сессия открыта, объект ещё не собран
	Pending Status = "Pending"
	// Uploaded: объект загружен, ожидает публикации
	Uploaded Status = "Uploaded"
	// Published: опубликован сайтом (конечный)
	Published Status = "Published"
	// Timeout: загрузка не завершена за отведённое время (конечный)
	Timeout Status = "Timeout"
	// Expired: загружен, но не опубликован за отведённое время (конечный)
	Expired Status = "Expired"
	// Error: отклонён (например, превышен размер), объект удалён (конечный)
	Error Status = "Error"
)

// All: полный набор статусов в порядке жизненного цикла.
var All = []Status{Pending, Uploaded, Published, Timeout, Expired, Error}

// validTransitions: матрица допустимых переходов.
// Ключ: текущий статус, значение: набор допустимых целевых статусов.
var validTransitions = map[Status]map[Status]bool{
	Pending:   {Uploaded: true, Timeout: true, Error: true},
	Uploaded:  {Published: true, Expired: true, Error: true},
	Published: {},
	Timeout:   {},
	Expired:   {},
	Error:     {},
}

// TransitionError: ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_STATUS, INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValid проверяет, входит ли статус в закрытый набор.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal: статус конечный, исходящих переходов нет.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(validTransitions[s]) == 0
}

// CanTransitionTo проверяет, допустим ли переход s → target.
func (s Status) CanTransitionTo(target Status) bool {
	return validTransitions[s][target]
}

// String реализует fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// ValidateTransition возвращает *TransitionError, если переход from → to
// отсутствует в матрице.
func ValidateTransition(from, to Status) error {
	if !from.IsValid() {
		return &TransitionError{
			Code:    "INVALID_STATUS",
			Message: fmt.Sprintf("недопустимый исходный статус: %q", from),
		}
	}
	if !to.IsValid() {
		return &TransitionError{
			Code:    "INVALID_STATUS",
			Message: fmt.Sprintf("недопустимый целевой статус: %q", to),
		}
	}
	if !from.CanTransitionTo(to) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// Parse преобразует строку в Status.
// Возвращает ошибку для значений вне закрытого набора.
func Parse(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: Pending, Uploaded, Published, Timeout, Expired, Error", s)
	}
	return st, nil
}
