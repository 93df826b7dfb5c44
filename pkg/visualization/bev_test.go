package visualization

import (
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"createqaplan/internal/models"
)

func field(collimator float64, jaws models.JawPositions) models.ControlPoint {
	return models.ControlPoint{CollimatorAngle: collimator, Jaws: jaws}
}

// TestToImage verifies the isocenter is centred and superior is up
func TestToImage(t *testing.T) {
	r := NewRenderer(200, 400)

	px, py := r.ToImage(0, 0)
	if px != 100 || py != 100 {
		t.Errorf("Expected isocenter at (100,100), got (%d,%d)", px, py)
	}

	_, pySup := r.ToImage(0, 50)
	if pySup >= py {
		t.Errorf("Expected superior point above isocenter, got row %d", pySup)
	}
}

// TestRenderOverhang verifies aperture outside the phantom is flagged
func TestRenderOverhang(t *testing.T) {
	r := NewRenderer(200, 400)
	jaws := models.JawPositions{X1: -50, Y1: -110, X2: 50, Y2: 50}

	img := r.Render(field(0, jaws), 100)
	if CountOverhang(img) == 0 {
		t.Error("Expected overhang for a field reaching 110mm into a 100mm phantom")
	}

	// After a 10mm superior shift the phantom extends 110mm below isocenter
	img = r.Render(field(0, jaws), 110)
	if n := CountOverhang(img); n != 0 {
		t.Errorf("Expected no overhang after shift, got %d pixels", n)
	}

	x, y := r.ToImage(0, -60)
	if got := img.RGBAAt(x, y); got != Aperture {
		t.Errorf("Expected aperture at (0,-60), got %v", got)
	}
	x, y = r.ToImage(0, 100)
	if got := img.RGBAAt(x, y); got != Phantom {
		t.Errorf("Expected phantom outside the field at (0,100), got %v", got)
	}
}

// TestRenderCollimatorRotation verifies the jaws rotate with the collimator
func TestRenderCollimatorRotation(t *testing.T) {
	r := NewRenderer(200, 400)
	// Long along Y, narrow along X
	jaws := models.JawPositions{X1: -10, Y1: -150, X2: 10, Y2: 150}

	if CountOverhang(r.Render(field(0, jaws), 100)) == 0 {
		t.Error("Expected overhang at collimator 0")
	}
	if n := CountOverhang(r.Render(field(90, jaws), 100)); n != 0 {
		t.Errorf("Expected no overhang at collimator 90, got %d pixels", n)
	}
}

// TestSaveBeams verifies one decodable JPEG is written per beam
func TestSaveBeams(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bev")
	jaws := models.JawPositions{X1: -50, Y1: -50, X2: 50, Y2: 50}
	beams := []*models.Beam{
		{ID: "G180", ControlPoints: []models.ControlPoint{field(0, jaws)}},
		{ID: "Arc 1/2", ControlPoints: []models.ControlPoint{field(30, jaws)}},
	}

	paths, err := NewRenderer(64, 400).SaveBeams(beams, 100, dir)
	if err != nil {
		t.Fatalf("SaveBeams failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(paths))
	}
	if filepath.Base(paths[1]) != "bev_02_Arc_1_2.jpg" {
		t.Errorf("Unexpected file name %s", filepath.Base(paths[1]))
	}

	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			t.Fatalf("Cannot open %s: %v", p, err)
		}
		img, err := jpeg.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("Cannot decode %s: %v", p, err)
		}
		if img.Bounds().Dx() != 64 {
			t.Errorf("Expected width 64, got %d", img.Bounds().Dx())
		}
	}
}

// TestSaveBeamsNoControlPoints verifies a beam without control points fails
func TestSaveBeamsNoControlPoints(t *testing.T) {
	_, err := NewRenderer(32, 400).SaveBeams([]*models.Beam{{ID: "X"}}, 100, t.TempDir())
	if err == nil {
		t.Error("Expected error for beam without control points")
	}
}
