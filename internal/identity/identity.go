// Package identity генерирует ключи объектов и короткие публичные ID файлов.
package identity

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

const (
	// FlickrBase58: алфавит без визуально похожих символов (0, O, I, l)
	FlickrBase58 = "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

	// EncodedLength: длина base58-представления 128-битного UUID с дополнением слева
	EncodedLength = 22

	// DefaultIDLength: длина производного публичного ID
	DefaultIDLength = 6

	maxIDLength = 255
)

// Generator выдаёт ключи объектов и производные от них короткие ID
type Generator struct {
	idLength int
	newUUID  func() (uuid.UUID, error)
}

func NewGenerator() *Generator {
	return &Generator{
		idLength: DefaultIDLength,
		newUUID:  uuid.NewRandom,
	}
}

// NewObjectKey возвращает глобально уникальный ключ объекта (UUID v4)
func (g *Generator) NewObjectKey() (string, error) {
	id, err := g.newUUID()
	if err != nil {
		return "", fmt.Errorf("failed to generate object key: %w", err)
	}
	return id.String(), nil
}

// DeriveID детерминированно получает короткий ID из ключа объекта.
// Короткие ID могут совпадать, проверку занятости делает вызывающий.
func (g *Generator) DeriveID(objectKey string) (string, error) {
	id, err := uuid.Parse(objectKey)
	if err != nil {
		return "", fmt.Errorf("invalid object key %q: %w", objectKey, err)
	}
	return Encode(id)[:g.idLength], nil
}

// Encode кодирует UUID в flickr-base58 фиксированной длины.
// Ведущие нулевые байты библиотека уже кодирует как "1", остаток добиваем тем же символом.
func Encode(id uuid.UUID) string {
	encoded := base58.FastBase58EncodingAlphabet(id[:], base58.FlickrAlphabet)
	if pad := EncodedLength - len(encoded); pad > 0 {
		encoded = strings.Repeat(FlickrBase58[:1], pad) + encoded
	}
	return encoded
}

// ValidateID проверяет ID, заданный клиентом: он должен быть одним сегментом пути
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("file id is empty")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("file id is longer than %d bytes", maxIDLength)
	}
	if strings.ContainsAny(id, "/?#\\") {
		return fmt.Errorf("file id %q contains reserved characters", id)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("file id %q contains whitespace", id)
		}
	}
	return nil
}
