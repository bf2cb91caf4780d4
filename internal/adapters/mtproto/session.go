package mtproto

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// ErrUnknownSession возвращается, если формат сессии не распознан.
var ErrUnknownSession = errors.New("mtproto: неизвестный формат сессии")

// sessionDecoder пробует разобрать один из форматов экспорта Telethon.
type sessionDecoder func(raw []byte) (*session.Data, error)

var sessionDecoders = []sessionDecoder{
	decodeAccountJSON,
	decodeSessionRows,
	decodeStringSession,
}

// ImportSession приводит экспорт сессии к формату gotd и сохраняет его в dst.
// converted сообщает, понадобилось ли преобразование.
func ImportSession(ctx context.Context, raw []byte, dst string) (converted bool, err error) {
	payload, converted, err := NormalizeSession(raw)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return false, fmt.Errorf("mtproto: каталог сессии: %w", err)
	}
	storage := &session.FileStorage{Path: dst}
	if err := storage.StoreSession(ctx, payload); err != nil {
		return false, fmt.Errorf("mtproto: запись сессии: %w", err)
	}
	return converted, nil
}

// NormalizeSession принимает JSON сессии gotd, строковую сессию Telethon,
// JSON аккаунта с extra_params или выгрузку таблицы sessions.
func NormalizeSession(raw []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, errors.New("mtproto: пустая сессия")
	}

	var native struct {
		Version int `json:"Version"`
	}
	if json.Unmarshal(trimmed, &native) == nil && native.Version != 0 {
		return append([]byte(nil), trimmed...), false, nil
	}

	for _, decode := range sessionDecoders {
		data, err := decode(trimmed)
		if err != nil {
			continue
		}
		payload, err := encodeSession(*data)
		if err != nil {
			return nil, false, err
		}
		return payload, true, nil
	}
	return nil, false, ErrUnknownSession
}

func decodeAccountJSON(raw []byte) (*session.Data, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, errors.New("нет extra_params")
	}
	return decodeStringSession([]byte(account.ExtraParams))
}

func decodeSessionRows(raw []byte) (*session.Data, error) {
	var rows []struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		return sessionFromKey(row.DCID, row.ServerAddress, row.Port, row.AuthKey)
	}
	return nil, errors.New("нет строк с ключом")
}

func decodeStringSession(raw []byte) (*session.Data, error) {
	value := strings.Trim(strings.TrimSpace(string(raw)), "\"'")
	if value == "" {
		return nil, errors.New("пустая строка сессии")
	}
	data, err := session.TelethonSession(value)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if len(data.Config.DCOptions) == 0 && data.Addr != "" {
		if host, portStr, err := net.SplitHostPort(data.Addr); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
			}
		}
	}
	return data, nil
}

func sessionFromKey(dc int, host string, port int, keyHex string) (*session.Data, error) {
	rawKey, err := hex.DecodeString(strings.Trim(strings.TrimSpace(keyHex), "'\""))
	if err != nil {
		return nil, fmt.Errorf("auth_key: %w", err)
	}
	var key crypto.Key
	if len(rawKey) != len(key) {
		return nil, fmt.Errorf("auth_key: длина %d байт", len(rawKey))
	}
	copy(key[:], rawKey)
	id := key.WithID().ID

	return &session.Data{
		Config: session.Config{
			ThisDC:    dc,
			DCOptions: []tg.DCOption{{ID: dc, IPAddress: host, Port: port}},
		},
		DC:        dc,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	}, nil
}

func encodeSession(data session.Data) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
	if err != nil {
		return nil, fmt.Errorf("mtproto: сериализация сессии: %w", err)
	}
	return payload, nil
}
