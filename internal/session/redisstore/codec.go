// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package redisstore

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/warden/internal/session"
)

// Timestamps are stored as Unix microseconds so Lua can compare them
// exactly; a double holds every microsecond value until year 2255.

func encodeTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func decodeTime(s string) (time.Time, error) {
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err //nolint:wrapcheck // wrapped by decodeSession
	}
	return time.UnixMicro(us).UTC(), nil
}

// encodeFields flattens a session into HSET field/value pairs.
func encodeFields(s *session.Session) ([]any, error) {
	metadata, err := json.Marshal(s.Device.Metadata)
	if err != nil {
		return nil, oops.With("operation", "marshal device metadata").Wrap(err)
	}
	valid := "0"
	if s.Valid {
		valid = "1"
	}
	invalidatedAt := ""
	if s.InvalidatedAt != nil {
		invalidatedAt = encodeTime(*s.InvalidatedAt)
	}
	return []any{
		"id", s.ID.String(),
		"principal_id", s.PrincipalID.String(),
		"refresh_hash", s.RefreshHash,
		"address", s.Device.Address,
		"user_agent", s.Device.UserAgent,
		"device_id", s.Device.DeviceID,
		"metadata", string(metadata),
		"created_at", encodeTime(s.CreatedAt),
		"expires_at", encodeTime(s.ExpiresAt),
		"last_activity_at", encodeTime(s.LastActivityAt),
		"valid", valid,
		"invalidated_at", invalidatedAt,
		"invalid_reason", s.InvalidReason,
	}, nil
}

// pairsToMap converts a flat HGETALL reply returned from a script.
func pairsToMap(reply []any) map[string]string {
	out := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		out[k] = v
	}
	return out
}

func decodeSession(fields map[string]string) (*session.Session, error) {
	var (
		s   session.Session
		err error
	)
	if s.ID, err = ulid.Parse(fields["id"]); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", fields["id"]).Wrap(err)
	}
	if s.PrincipalID, err = ulid.Parse(fields["principal_id"]); err != nil {
		return nil, oops.Code("SESSION_INVALID_PRINCIPAL_ID").With("principal_id", fields["principal_id"]).Wrap(err)
	}
	s.RefreshHash = fields["refresh_hash"]
	s.Device.Address = fields["address"]
	s.Device.UserAgent = fields["user_agent"]
	s.Device.DeviceID = fields["device_id"]
	if raw := fields["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &s.Device.Metadata); err != nil {
			return nil, oops.Code("SESSION_INVALID_METADATA").With("id", fields["id"]).Wrap(err)
		}
	}

	for name, dst := range map[string]*time.Time{
		"created_at":       &s.CreatedAt,
		"expires_at":       &s.ExpiresAt,
		"last_activity_at": &s.LastActivityAt,
	} {
		if *dst, err = decodeTime(fields[name]); err != nil {
			return nil, oops.Code("SESSION_INVALID_TIMESTAMP").With("field", name).With("id", fields["id"]).Wrap(err)
		}
	}

	s.Valid = fields["valid"] == "1"
	if raw := fields["invalidated_at"]; raw != "" {
		at, err := decodeTime(raw)
		if err != nil {
			return nil, oops.Code("SESSION_INVALID_TIMESTAMP").With("field", "invalidated_at").With("id", fields["id"]).Wrap(err)
		}
		s.InvalidatedAt = &at
	}
	s.InvalidReason = fields["invalid_reason"]
	return &s, nil
}
