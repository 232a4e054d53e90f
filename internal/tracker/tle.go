// Package tracker реализует топоцентрический конвейер координат,
// загрузку TLE и расчёт положения спутников на небе наблюдателя.
package tracker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Ошибки парсинга TLE
var (
	ErrInvalidTLEFormat  = errors.New("invalid TLE format")
	ErrInvalidChecksum   = errors.New("invalid TLE checksum")
	ErrInvalidLineNumber = errors.New("invalid TLE line number")
	ErrLineTooShort      = errors.New("TLE line too short")
	ErrNoradIDMismatch   = errors.New("NORAD ID mismatch between lines")
	ErrNoTLE             = errors.New("no valid TLE objects found")
)

// TLELineLength — длина строки TLE (включая checksum).
const TLELineLength = 69

// TLE — набор орбитальных элементов спутника.
// Пропагатор использует исходные строки, остальные поля нужны для отображения и отбора.
type TLE struct {
	Name        string    // Имя спутника (из Line 0 или "Object N")
	NoradID     int       // NORAD каталожный номер
	Epoch       time.Time // Эпоха элементов (UTC)
	Inclination float64   // Наклонение орбиты (градусы)
	MeanMotion  float64   // Среднее движение (оборотов/день)
	Line1       string
	Line2       string
}

// ParseTLEBlocks разбирает текст с несколькими TLE.
// Блок либо из двух строк (Line1, Line2), либо из трёх (Name, Line1, Line2).
// Безымянные блоки получают имя "Object N" по порядковому номеру.
func ParseTLEBlocks(text string) ([]*TLE, error) {
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		if line := strings.TrimSpace(raw); line != "" {
			lines = append(lines, line)
		}
	}

	var tles []*TLE

	for i := 0; i < len(lines); {
		current := lines[i]
		next := lineAt(lines, i+1)
		afterNext := lineAt(lines, i+2)

		switch {
		case strings.HasPrefix(current, "1 ") && strings.HasPrefix(next, "2 "):
			tle, err := ParseTLE(fmt.Sprintf("Object %d", len(tles)+1), current, next)
			if err != nil {
				return nil, fmt.Errorf("TLE at line %d: %w", i+1, err)
			}
			tles = append(tles, tle)
			i += 2

		case strings.HasPrefix(next, "1 ") && strings.HasPrefix(afterNext, "2 "):
			tle, err := ParseTLE(current, next, afterNext)
			if err != nil {
				return nil, fmt.Errorf("TLE at line %d: %w", i+1, err)
			}
			tles = append(tles, tle)
			i += 3

		default:
			return nil, fmt.Errorf("%w: could not parse TLE near line %d: %q", ErrInvalidTLEFormat, i+1, current)
		}
	}

	if len(tles) == 0 {
		return nil, ErrNoTLE
	}

	return tles, nil
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}

	return ""
}

// ParseTLE разбирает одну пару строк TLE.
func ParseTLE(name, line1, line2 string) (*TLE, error) {
	if len(line1) < TLELineLength {
		return nil, fmt.Errorf("%w: Line1 length %d, need %d", ErrLineTooShort, len(line1), TLELineLength)
	}
	if len(line2) < TLELineLength {
		return nil, fmt.Errorf("%w: Line2 length %d, need %d", ErrLineTooShort, len(line2), TLELineLength)
	}

	if line1[0] != '1' {
		return nil, fmt.Errorf("%w: Line1 starts with %c, expected 1", ErrInvalidLineNumber, line1[0])
	}
	if line2[0] != '2' {
		return nil, fmt.Errorf("%w: Line2 starts with %c, expected 2", ErrInvalidLineNumber, line2[0])
	}

	if !validateChecksum(line1) {
		return nil, fmt.Errorf("%w: Line1", ErrInvalidChecksum)
	}
	if !validateChecksum(line2) {
		return nil, fmt.Errorf("%w: Line2", ErrInvalidChecksum)
	}

	id1, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return nil, fmt.Errorf("%w: NORAD ID in Line1: %v", ErrInvalidTLEFormat, err)
	}
	id2, err := strconv.Atoi(strings.TrimSpace(line2[2:7]))
	if err != nil {
		return nil, fmt.Errorf("%w: NORAD ID in Line2: %v", ErrInvalidTLEFormat, err)
	}
	if id1 != id2 {
		return nil, fmt.Errorf("%w: Line1=%d, Line2=%d", ErrNoradIDMismatch, id1, id2)
	}

	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return nil, fmt.Errorf("%w: epoch: %v", ErrInvalidTLEFormat, err)
	}

	// Inclination (cols 9-16), Mean Motion (cols 53-63).
	incl, err := strconv.ParseFloat(strings.TrimSpace(line2[8:16]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: inclination: %v", ErrInvalidTLEFormat, err)
	}
	meanMotion, err := strconv.ParseFloat(strings.TrimSpace(line2[52:63]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: mean motion: %v", ErrInvalidTLEFormat, err)
	}

	return &TLE{
		Name:        strings.TrimSpace(name),
		NoradID:     id1,
		Epoch:       epoch,
		Inclination: incl,
		MeanMotion:  meanMotion,
		Line1:       line1,
		Line2:       line2,
	}, nil
}

// validateChecksum проверяет контрольную сумму строки TLE по алгоритму Modulo-10.
func validateChecksum(line string) bool {
	if len(line) < TLELineLength {
		return false
	}

	checksumIdx := TLELineLength - 1

	return calculateChecksum(line[:checksumIdx]) == int(line[checksumIdx]-'0')
}

// calculateChecksum: сумма цифр плюс 1 за каждый минус, по модулю 10.
func calculateChecksum(line string) int {
	sum := 0
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}

	return sum % 10
}

// parseEpoch парсит эпоху TLE из формата YYDDD.DDDDDDDD.
// YY: 57-99 = 1957-1999, 00-56 = 2000-2056.
func parseEpoch(epochStr string) (time.Time, error) {
	if len(epochStr) < 7 {
		return time.Time{}, fmt.Errorf("epoch string too short: %s", epochStr)
	}

	year, err := strconv.Atoi(epochStr[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing year: %w", err)
	}

	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(epochStr[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing day of year: %w", err)
	}

	base := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

	return base.Add(time.Duration((dayOfYear - 1) * 24 * float64(time.Hour))), nil
}

// OrbitalPeriod возвращает орбитальный период.
func (tle *TLE) OrbitalPeriod() time.Duration {
	if tle.MeanMotion <= 0 {
		return 0
	}

	return time.Duration(1440.0 / tle.MeanMotion * float64(time.Minute))
}

// String возвращает TLE в 3-line формате.
func (tle *TLE) String() string {
	if tle.Name != "" {
		return fmt.Sprintf("%s\n%s\n%s", tle.Name, tle.Line1, tle.Line2)
	}

	return fmt.Sprintf("%s\n%s", tle.Line1, tle.Line2)
}
