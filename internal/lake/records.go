package lake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// SongRecord is one object from song_data.
type SongRecord struct {
	NumSongs        int      `json:"num_songs"`
	ArtistID        string   `json:"artist_id"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	ArtistLocation  string   `json:"artist_location"`
	ArtistName      string   `json:"artist_name"`
	SongID          string   `json:"song_id"`
	Title           string   `json:"title"`
	Duration        float64  `json:"duration"`
	Year            int      `json:"year"`
}

// LogRecord is one user event from log_data.
type LogRecord struct {
	Artist        string  `json:"artist"`
	Auth          string  `json:"auth"`
	FirstName     string  `json:"firstName"`
	Gender        string  `json:"gender"`
	ItemInSession int     `json:"itemInSession"`
	LastName      string  `json:"lastName"`
	Length        float64 `json:"length"`
	Level         string  `json:"level"`
	Location      string  `json:"location"`
	Method        string  `json:"method"`
	Page          string  `json:"page"`
	Registration  float64 `json:"registration"`
	SessionID     int64   `json:"sessionId"`
	Song          string  `json:"song"`
	Status        int     `json:"status"`
	TS            int64   `json:"ts"`
	UserAgent     string  `json:"userAgent"`
	UserID        FlexInt `json:"userId"`
}

// NextSong reports whether the event is a song play.
func (r LogRecord) NextSong() bool {
	return r.Page == "NextSong"
}

// FlexInt decodes an integer that may arrive as a JSON number, a quoted number, an empty string, or null.
//
// Log events carry userId as a string, and logged-out events leave it empty.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", data, err)
	}
	*f = FlexInt(n)
	return nil
}

// decodeAll reads a stream of JSON values: newline-delimited objects, a single object, or a top-level array.
func decodeAll[T any](r io.Reader) ([]T, error) {
	dec := json.NewDecoder(r)
	var out []T
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}

		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			var batch []T
			if err := json.Unmarshal(raw, &batch); err != nil {
				return out, err
			}
			out = append(out, batch...)
			continue
		}

		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// DecodeSongs reads song records from r.
func DecodeSongs(r io.Reader) ([]SongRecord, error) {
	return decodeAll[SongRecord](r)
}

// DecodeLogs reads log records from r.
func DecodeLogs(r io.Reader) ([]LogRecord, error) {
	return decodeAll[LogRecord](r)
}
