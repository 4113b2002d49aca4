package repository

import "errors"

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrRaffleNotFound возвращается, если розыгрыш отсутствует в каталоге.
	ErrRaffleNotFound = errors.New("raffle not found")
	// ErrEntryNotFound возвращается, если запись участия не найдена.
	ErrEntryNotFound = errors.New("raffle entry not found")

	// ErrInvalidQuantity возвращается, если количество билетов не положительно.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInsufficientBalance возвращается, если трата увела бы баланс в минус.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateReference возвращается при повторе внешней ссылки платежа у пользователя.
	ErrDuplicateReference = errors.New("duplicate external reference")
	// ErrRaffleClosed возвращается, если розыгрыш не существует или не принимает участников.
	ErrRaffleClosed = errors.New("raffle closed")
	// ErrOutOfRange возвращается, если количество билетов вне лимитов розыгрыша.
	ErrOutOfRange = errors.New("tickets out of range")
	// ErrRaffleFull возвращается, если достигнут лимит участников розыгрыша.
	ErrRaffleFull = errors.New("raffle is full")
	// ErrIdempotencyKeyReuse возвращается, если ключ идемпотентности уже использован для другого запроса.
	ErrIdempotencyKeyReuse = errors.New("idempotency key reused for a different request")
	// ErrStorageUnavailable возвращается, если хранилище недоступно после всех повторов.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
