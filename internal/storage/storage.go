// Package storage определяет контракт хранилища записей пользователей.
//
// Хранилище — единственный разделяемый изменяемый ресурс ядра. Все операции
// чтения-решения-записи над одним пользователем сериализуются внутри WithLock;
// операции над разными пользователями друг друга не блокируют. Каждая мутация
// должна быть надёжно записана до успешного возврата.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/magabrotheeeer/premium-access/internal/models"
)

// ErrUnavailable сигнализирует о временном сбое хранилища (диск, блокировка,
// соединение). Вызывающая сторона трактует его как "решение недоступно,
// повторите" — шлюз доступа при этом отказывает, а не разрешает.
var ErrUnavailable = errors.New("store unavailable")

// Store — контракт хранилища записей пользователей.
//
// Сырые записи наружу не выдаются иначе как копиями: дисциплину блокировок
// нельзя обойти, меняя запись вне WithLock.
type Store interface {
	// Get возвращает запись пользователя, создавая и сохраняя запись
	// по умолчанию при первом обращении. Повторное "первое обращение"
	// конкурентного вызова видит уже созданную запись.
	Get(ctx context.Context, userID int64) (models.UserRecord, error)
	// WithLock выполняет fn над текущей записью в эксклюзивной критической
	// секции пользователя userID и сохраняет результат до возврата.
	// Ошибка fn отменяет сохранение и возвращается вызывающему.
	WithLock(ctx context.Context, userID int64, fn func(rec *models.UserRecord) error) (models.UserRecord, error)
	// List возвращает копии всех записей для периодических обходов.
	List(ctx context.Context) ([]models.UserRecord, error)
	// Close освобождает ресурсы хранилища.
	Close() error
}

// NewRecord возвращает запись по умолчанию для первого обращения пользователя.
func NewRecord(userID int64, now time.Time) models.UserRecord {
	return models.UserRecord{
		UserID:    userID,
		Status:    models.StatusNew,
		CreatedAt: now,
	}
}
