package mq

import "errors"

var (
	// ErrNoChannel — канал AMQP не открыт (идёт переподключение).
	ErrNoChannel = errors.New("amqp channel is not available")

	// ErrClosed — соединение закрыто.
	ErrClosed = errors.New("amqp connection closed")
)

// permanentError — ошибка, после которой сообщение не возвращается в очередь.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку обработчика как неисправимую:
// сообщение уходит в DLQ вместо повторной доставки.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent проверяет, помечена ли ошибка через Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
