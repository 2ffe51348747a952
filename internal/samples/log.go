package samples

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/egomotion/internal/egomotion"
)

// LogHeader is the column layout of a drive log. GPS columns are empty for
// rows recorded before the first fix.
var LogHeader = []string{"t_ms", "gps_ts_ms", "gps_vx", "gps_vy", "imu_ax", "imu_ay", "imu_yaw"}

// Row is one control cycle of a drive log: the cycle time, the most recent
// GPS fix (if any) and the IMU sample for the cycle.
type Row struct {
	TimeMs float64
	HasGPS bool
	GPS    egomotion.GpsSample
	IMU    egomotion.ImuSample
}

// ReadLog reads a CSV drive log. The header row is required.
func ReadLog(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(LogHeader)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty drive log")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, col := range LogHeader {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], col)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(rec []string) (Row, error) {
	var (
		row Row
		err error
	)
	parse := func(col int, dst *float64) {
		if err != nil {
			return
		}
		if *dst, err = strconv.ParseFloat(rec[col], 64); err != nil {
			err = fmt.Errorf("failed to parse %s: %w", LogHeader[col], err)
		}
	}

	parse(0, &row.TimeMs)
	if rec[1] != "" || rec[2] != "" || rec[3] != "" {
		row.HasGPS = true
		parse(1, &row.GPS.Timestamp)
		parse(2, &row.GPS.VelocityX)
		parse(3, &row.GPS.VelocityY)
	}
	parse(4, &row.IMU.AccelX)
	parse(5, &row.IMU.AccelY)
	parse(6, &row.IMU.YawRate)
	return row, err
}

// WriteLog writes rows as a CSV drive log including the header.
func WriteLog(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LogHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	rec := make([]string, len(LogHeader))
	for _, row := range rows {
		rec[0] = f(row.TimeMs)
		if row.HasGPS {
			rec[1], rec[2], rec[3] = f(row.GPS.Timestamp), f(row.GPS.VelocityX), f(row.GPS.VelocityY)
		} else {
			rec[1], rec[2], rec[3] = "", "", ""
		}
		rec[4], rec[5], rec[6] = f(row.IMU.AccelX), f(row.IMU.AccelY), f(row.IMU.YawRate)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write row at t=%v: %w", row.TimeMs, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Latch keeps the most recent sample of each kind, mirroring how the
// control loop sees asynchronous sensors: GPS arrives at its own rate and
// is reused until the next fix. IMU samples are consumed by Take.
type Latch struct {
	gps     egomotion.GpsSample
	hasGPS  bool
	imu     egomotion.ImuSample
	imuMs   float64
	hasIMU  bool
	tickMs  float64
	hasTick bool
}

// Apply records ev.
func (l *Latch) Apply(ev Event) {
	switch ev.Kind {
	case KindIMU:
		l.imu, l.imuMs, l.hasIMU = ev.IMU, ev.TimeMs, true
	case KindGPS:
		l.gps, l.hasGPS = ev.GPS, true
	case KindTick:
		l.tickMs, l.hasTick = ev.TimeMs, true
	}
}

// GPS returns the latest fix, if any.
func (l *Latch) GPS() (egomotion.GpsSample, bool) { return l.gps, l.hasGPS }

// IMU returns the latest IMU sample and its time, if any.
func (l *Latch) IMU() (egomotion.ImuSample, float64, bool) { return l.imu, l.imuMs, l.hasIMU }

// Tick returns the latest bridge tick time, if any.
func (l *Latch) Tick() (float64, bool) { return l.tickMs, l.hasTick }

// Row snapshots the latch as a drive log row at timeMs. ok is false until
// an IMU sample has been seen.
func (l *Latch) Row(timeMs float64) (Row, bool) {
	if !l.hasIMU {
		return Row{}, false
	}
	return Row{TimeMs: timeMs, HasGPS: l.hasGPS, GPS: l.gps, IMU: l.imu}, true
}

// Take is Row for the control loop: it consumes the IMU sample so each
// sample drives at most one cycle. A tick with no new IMU sample since the
// last Take yields ok == false.
func (l *Latch) Take(timeMs float64) (Row, bool) {
	row, ok := l.Row(timeMs)
	l.hasIMU = false
	return row, ok
}

// RowsFromEvents converts a recorded event stream into drive log rows, one
// per IMU event, each carrying the GPS fix latched at that point.
func RowsFromEvents(events []Event) []Row {
	var (
		l    Latch
		rows []Row
	)
	for _, ev := range events {
		l.Apply(ev)
		if ev.Kind != KindIMU {
			continue
		}
		if row, ok := l.Row(ev.TimeMs); ok {
			rows = append(rows, row)
		}
	}
	return rows
}
