// errors.go: ошибки бизнес-логики сервисного слоя.
package service

import "errors"

// CodeFileExists: машиночитаемый код конфликта при старте загрузки.
const CodeFileExists = "FILE_EXISTS"

var (
	// ErrValidation: некорректные входные данные (ключ, номер части, пустое тело).
	ErrValidation = errors.New("ошибка валидации")
	// ErrFileExists: объект с таким ключом уже есть в хранилище.
	ErrFileExists = errors.New("файл уже существует")
	// ErrQuotaExceeded: превышена квота неопубликованных байт загрузившего.
	ErrQuotaExceeded = errors.New("превышена квота неопубликованных файлов")
	// ErrSizeLimit: собранный объект превышает допустимый размер.
	ErrSizeLimit = errors.New("превышен максимальный размер файла")
	// ErrInvalidStatus: в пакете публикации есть файлы в недопустимом статусе.
	ErrInvalidStatus = errors.New("недопустимый статус файла")
	// ErrNotFound: ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict: параллельная операция над тем же ресурсом.
	ErrConflict = errors.New("конфликт параллельных операций")
	// ErrAccessDenied: запрос не прошёл Access Gate.
	ErrAccessDenied = errors.New("доступ запрещён")
	// ErrPreconditionFailed: условный заголовок запроса не выполнен.
	ErrPreconditionFailed = errors.New("условие запроса не выполнено")
	// ErrUpstream: ошибка хранилища или базы данных.
	ErrUpstream = errors.New("ошибка внешнего хранилища")
)
