package lake

import (
	"fmt"
	"sort"
	"time"

	"github.com/desertthunder/dwh/internal/shared"
)

// SongRow is a row of the songs table, partitioned by year and artist_id.
type SongRow struct {
	SongID   string  `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Title    string  `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArtistID string  `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Year     int32   `parquet:"name=year, type=INT32"`
	Duration float64 `parquet:"name=duration, type=DOUBLE"`
}

// ArtistRow is a row of the artists table.
type ArtistRow struct {
	ArtistID  string   `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name      string   `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Location  string   `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8"`
	Latitude  *float64 `parquet:"name=latitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	Longitude *float64 `parquet:"name=longitude, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// UserRow is a row of the users table.
type UserRow struct {
	UserID    int64  `parquet:"name=user_id, type=INT64"`
	FirstName string `parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastName  string `parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gender    string `parquet:"name=gender, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level     string `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// TimeRow is a row of the time table, partitioned by year and month.
//
// Weekday runs from Sunday=1 to Saturday=7.
type TimeRow struct {
	StartTime int64 `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Hour      int32 `parquet:"name=hour, type=INT32"`
	Day       int32 `parquet:"name=day, type=INT32"`
	Week      int32 `parquet:"name=week, type=INT32"`
	Month     int32 `parquet:"name=month, type=INT32"`
	Year      int32 `parquet:"name=year, type=INT32"`
	Weekday   int32 `parquet:"name=weekday, type=INT32"`
}

// SongplayRow is a row of the songplays fact table, partitioned by year and month.
type SongplayRow struct {
	SongplayID int64  `parquet:"name=songplay_id, type=INT64"`
	StartTime  int64  `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	UserID     int64  `parquet:"name=user_id, type=INT64"`
	Level      string `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8"`
	SongID     string `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArtistID   string `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SessionID  int64  `parquet:"name=session_id, type=INT64"`
	Location   string `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8"`
	UserAgent  string `parquet:"name=user_agent, type=BYTE_ARRAY, convertedtype=UTF8"`
	Year       int32  `parquet:"name=year, type=INT32"`
	Month      int32  `parquet:"name=month, type=INT32"`
}

// Calendar decomposes an epoch-millisecond timestamp in UTC.
func Calendar(tsMillis int64) TimeRow {
	t := time.UnixMilli(tsMillis).UTC()
	_, week := t.ISOWeek()
	return TimeRow{
		StartTime: tsMillis,
		Hour:      int32(t.Hour()),
		Day:       int32(t.Day()),
		Week:      int32(week),
		Month:     int32(t.Month()),
		Year:      int32(t.Year()),
		Weekday:   int32(t.Weekday()) + 1,
	}
}

// SongsTable keeps the first record per song_id, ordered by song_id.
func SongsTable(songs []SongRecord) []SongRow {
	seen := make(map[string]bool, len(songs))
	var rows []SongRow
	for _, s := range songs {
		if s.SongID == "" || seen[s.SongID] {
			continue
		}
		seen[s.SongID] = true
		rows = append(rows, SongRow{
			SongID:   s.SongID,
			Title:    s.Title,
			ArtistID: s.ArtistID,
			Year:     int32(s.Year),
			Duration: s.Duration,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SongID < rows[j].SongID })
	return rows
}

// ArtistsTable keeps the first record per artist_id, ordered by artist_id.
func ArtistsTable(songs []SongRecord) []ArtistRow {
	seen := make(map[string]bool, len(songs))
	var rows []ArtistRow
	for _, s := range songs {
		if s.ArtistID == "" || seen[s.ArtistID] {
			continue
		}
		seen[s.ArtistID] = true
		rows = append(rows, ArtistRow{
			ArtistID:  s.ArtistID,
			Name:      s.ArtistName,
			Location:  s.ArtistLocation,
			Latitude:  s.ArtistLatitude,
			Longitude: s.ArtistLongitude,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ArtistID < rows[j].ArtistID })
	return rows
}

// UsersTable keeps one row per user from song plays; the level of the latest event wins.
func UsersTable(logs []LogRecord) []UserRow {
	latest := make(map[int64]LogRecord)
	for _, l := range logs {
		if !l.NextSong() || l.UserID == 0 {
			continue
		}
		id := int64(l.UserID)
		if prev, ok := latest[id]; !ok || l.TS >= prev.TS {
			latest[id] = l
		}
	}

	rows := make([]UserRow, 0, len(latest))
	for id, l := range latest {
		rows = append(rows, UserRow{
			UserID:    id,
			FirstName: l.FirstName,
			LastName:  l.LastName,
			Gender:    l.Gender,
			Level:     l.Level,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows
}

// TimeTable has one row per distinct song play timestamp, in time order.
func TimeTable(logs []LogRecord) []TimeRow {
	seen := make(map[int64]bool)
	var rows []TimeRow
	for _, l := range logs {
		if !l.NextSong() || seen[l.TS] {
			continue
		}
		seen[l.TS] = true
		rows = append(rows, Calendar(l.TS))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StartTime < rows[j].StartTime })
	return rows
}

// SongplaysTable joins song plays to songs on normalized title and artist name.
//
// Plays with no matching song are dropped, as are repeats of the same start time, user and song.
// Ids increase with start time from 0.
func SongplaysTable(logs []LogRecord, songs []SongRecord) []SongplayRow {
	catalog := make(map[string]SongRecord, len(songs))
	for _, s := range songs {
		key := shared.NormalizeKey(s.Title, s.ArtistName)
		if _, ok := catalog[key]; !ok {
			catalog[key] = s
		}
	}

	plays := make([]LogRecord, 0, len(logs))
	for _, l := range logs {
		if l.NextSong() {
			plays = append(plays, l)
		}
	}
	sort.SliceStable(plays, func(i, j int) bool { return plays[i].TS < plays[j].TS })

	type play struct {
		ts     int64
		user   int64
		songID string
	}
	seen := make(map[play]bool, len(plays))

	var rows []SongplayRow
	for _, l := range plays {
		song, ok := catalog[shared.NormalizeKey(l.Song, l.Artist)]
		if !ok {
			continue
		}
		key := play{ts: l.TS, user: int64(l.UserID), songID: song.SongID}
		if seen[key] {
			continue
		}
		seen[key] = true
		cal := Calendar(l.TS)
		rows = append(rows, SongplayRow{
			SongplayID: int64(len(rows)),
			StartTime:  l.TS,
			UserID:     int64(l.UserID),
			Level:      l.Level,
			SongID:     song.SongID,
			ArtistID:   song.ArtistID,
			SessionID:  l.SessionID,
			Location:   l.Location,
			UserAgent:  l.UserAgent,
			Year:       cal.Year,
			Month:      cal.Month,
		})
	}
	return rows
}

// Partition functions name Hive-style partition directories.
func songPartition(r SongRow) string {
	return fmt.Sprintf("year=%d/artist_id=%s", r.Year, r.ArtistID)
}

func timePartition(r TimeRow) string {
	return fmt.Sprintf("year=%d/month=%d", r.Year, r.Month)
}

func songplayPartition(r SongplayRow) string {
	return fmt.Sprintf("year=%d/month=%d", r.Year, r.Month)
}
