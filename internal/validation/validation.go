// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	maxKeyLength       = 128
	maxReferenceLength = 255
)

// IsValidCurrency проверяет, что код валюты состоит из трёх заглавных латинских букв (ISO 4217).
func IsValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// IsValidIdempotencyKey проверяет ключ идемпотентности: непустой, не длиннее 128 символов,
// только печатные символы без пробелов.
func IsValidIdempotencyKey(key string) bool {
	return isToken(key, maxKeyLength)
}

// IsValidReference проверяет внешнюю ссылку платежного провайдера.
func IsValidReference(ref string) bool {
	return isToken(ref, maxReferenceLength)
}

func isToken(s string, limit int) bool {
	if s == "" || len(s) > limit {
		return false
	}
	for _, ch := range s {
		if ch > unicode.MaxASCII || !unicode.IsPrint(ch) || unicode.IsSpace(ch) {
			return false
		}
	}
	return true
}
