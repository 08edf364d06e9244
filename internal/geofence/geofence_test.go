package geofence

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kozaktomas/attendance-terminal/internal/config"
)

var campus = Point{Lat: 28.682025, Lng: 77.508481}

// northOf returns a position meters north of p along its meridian.
func northOf(p Point, meters float64) Position {
	return Position{Lat: p.Lat + meters/6371e3*180/math.Pi, Lng: p.Lng, Accuracy: 5}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
		tol  float64
	}{
		{"same point", campus, campus, 0, 1e-9},
		{"60m north", campus, northOf(campus, 60).Point(), 60, 1e-6},
		{"one degree of longitude at equator", Point{0, 0}, Point{0, 1}, 111194.93, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(tt.a, tt.b); math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Distance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	inside := northOf(campus, 20)
	v, err := Verify(inside, campus, 50)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if math.Abs(v.Distance-20) > 1e-6 || v.Position.Accuracy != 5 {
		t.Errorf("Verify() = %+v", v)
	}

	outside := northOf(campus, 60)
	_, err = Verify(outside, campus, 50)
	var oor *OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("Verify() error = %v, want OutOfRangeError", err)
	}
	if math.Round(oor.Distance) != 60 {
		t.Errorf("OutOfRange distance = %v, want 60", oor.Distance)
	}
}

func TestVerify_InclusiveBoundary(t *testing.T) {
	pos := northOf(campus, 50)
	d := Distance(pos.Point(), campus)

	if _, err := Verify(pos, campus, d); err != nil {
		t.Errorf("distance equal to radius rejected: %v", err)
	}
	if _, err := Verify(pos, campus, d-1); err == nil {
		t.Error("one meter beyond radius accepted")
	}
}

func TestOutOfRangeError_Message(t *testing.T) {
	err := &OutOfRangeError{Distance: 60.4, Radius: 50, Position: Position{Lat: 1, Lng: 2}, Target: Point{Lat: 3, Lng: 4}}
	want := "Attendance Rejected: You are 60m away. (Allowed: 50m)\nYour Loc: 1.000000, 2.000000\nTarget: 3, 4"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func testConfig(mode string) config.GeofenceConfig {
	return config.GeofenceConfig{
		Mode:         mode,
		Categories:   []string{"faculty"},
		RadiusMeters: 50,
		Targets: map[string]config.GeoPoint{
			"faculty":       {Lat: campus.Lat, Lng: campus.Lng},
			"administrator": {Lat: campus.Lat, Lng: campus.Lng},
		},
	}
}

func TestPolicy_Target(t *testing.T) {
	stored := SettingsFromDocument(map[string]any{
		"facultyLat": "10.5",
		"facultyLng": 20.25,
		"radius":     100.0,
	})

	t.Run("defaults mode ignores stored settings", func(t *testing.T) {
		p := NewPolicy(testConfig(ModeDefaults), nil)
		p.Update(&stored)
		target, radius := p.Target("faculty")
		if target != campus || radius != 50 {
			t.Errorf("Target() = %v, %v", target, radius)
		}
	})

	t.Run("stored mode overrides field by field", func(t *testing.T) {
		p := NewPolicy(testConfig(ModeStored), nil)
		p.Update(&stored)
		target, radius := p.Target("faculty")
		if target.Lat != 10.5 || target.Lng != 20.25 || radius != 100 {
			t.Errorf("Target() = %v, %v", target, radius)
		}
		admin, _ := p.Target("administrator")
		if admin != campus {
			t.Errorf("administrator target = %v, want defaults", admin)
		}
	})
}

type fakeSource struct {
	pos Position
	err error
}

func (f fakeSource) Position(ctx context.Context) (Position, error) {
	return f.pos, f.err
}

func TestChecker_Check(t *testing.T) {
	policy := NewPolicy(testConfig(ModeDefaults), nil)

	t.Run("student bypasses the check", func(t *testing.T) {
		c := NewChecker(policy, fakeSource{err: errors.New("denied")}, 0)
		v, err := c.Check(context.Background(), "student")
		if v != nil || err != nil {
			t.Errorf("Check() = %v, %v; want nil, nil", v, err)
		}
	})

	t.Run("faculty inside radius", func(t *testing.T) {
		c := NewChecker(policy, fakeSource{pos: northOf(campus, 10)}, 0)
		v, err := c.Check(context.Background(), "faculty")
		if err != nil || v == nil {
			t.Fatalf("Check() = %v, %v", v, err)
		}
	})

	t.Run("faculty at 60m is out of range", func(t *testing.T) {
		c := NewChecker(policy, fakeSource{pos: northOf(campus, 60)}, 0)
		_, err := c.Check(context.Background(), "faculty")
		var oor *OutOfRangeError
		if !errors.As(err, &oor) || math.Round(oor.Distance) != 60 {
			t.Errorf("Check() error = %v, want OutOfRange 60", err)
		}
	})

	t.Run("source failure is location unavailable", func(t *testing.T) {
		c := NewChecker(policy, fakeSource{err: context.DeadlineExceeded}, 0)
		_, err := c.Check(context.Background(), "faculty")
		if !errors.Is(err, ErrLocationUnavailable) {
			t.Errorf("Check() error = %v, want ErrLocationUnavailable", err)
		}
	})

	t.Run("missing source is location unavailable", func(t *testing.T) {
		c := NewChecker(policy, nil, 0)
		_, err := c.Check(context.Background(), "faculty")
		if !errors.Is(err, ErrLocationUnavailable) {
			t.Errorf("Check() error = %v, want ErrLocationUnavailable", err)
		}
	})
}

func TestSettingsFromDocument(t *testing.T) {
	s := SettingsFromDocument(map[string]any{"facultyLat": "abc", "adminLat": 0.0, "adminLng": 77.5})
	if s.FacultyLat != nil || s.AdminLat != nil {
		t.Errorf("invalid and zero values should be unset: %+v", s)
	}
	if s.AdminLng == nil || *s.AdminLng != 77.5 {
		t.Errorf("AdminLng = %v", s.AdminLng)
	}
}
