// Package visualization renders beam's-eye-view snapshots of verification
// fields so the phantom coverage of every aperture can be checked by eye.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"createqaplan/internal/models"
)

// Colours of a snapshot
var (
	Background = color.RGBA{R: 24, G: 24, B: 24, A: 255}
	Phantom    = color.RGBA{R: 70, G: 90, B: 110, A: 255}
	Aperture   = color.RGBA{R: 240, G: 220, B: 90, A: 255}
	Overhang   = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	Crosshair  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Renderer draws the jaw aperture of a control point in the isocenter plane.
// Image up is superior and the isocenter sits at the image centre.
type Renderer struct {
	// size is the image width and height in pixels
	size int

	// fov is the extent covered by the image in mm
	fov float64
}

// NewRenderer creates a renderer producing size x size images covering fov mm
func NewRenderer(size int, fov float64) *Renderer {
	if size <= 0 {
		size = 256
	}
	if fov <= 0 {
		fov = 400
	}
	return &Renderer{size: size, fov: fov}
}

// ToImage maps a BEV point in mm to pixel coordinates
func (r *Renderer) ToImage(x, y float64) (int, int) {
	scale := float64(r.size) / r.fov
	px := int(math.Floor(float64(r.size)/2 + x*scale))
	py := int(math.Floor(float64(r.size)/2 - y*scale))
	return px, py
}

// toWorld maps the centre of a pixel back to mm
func (r *Renderer) toWorld(px, py int) (float64, float64) {
	scale := r.fov / float64(r.size)
	x := (float64(px) + 0.5 - float64(r.size)/2) * scale
	y := (float64(r.size)/2 - float64(py) - 0.5) * scale
	return x, y
}

// Render draws the aperture of cp. inferiorLimit is the phantom extent below
// the isocenter in mm; aperture outside the phantom is drawn as Overhang.
func (r *Renderer) Render(cp models.ControlPoint, inferiorLimit float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.size, r.size))

	theta := cp.CollimatorAngle * math.Pi / 180.0
	cosAng := math.Cos(theta)
	sinAng := math.Sin(theta)
	jaws := cp.Jaws

	for py := 0; py < r.size; py++ {
		for px := 0; px < r.size; px++ {
			x, y := r.toWorld(px, py)

			// Rotate back into the collimator frame
			cx := x*cosAng + y*sinAng
			cy := -x*sinAng + y*cosAng
			inField := cx >= jaws.X1 && cx <= jaws.X2 && cy >= jaws.Y1 && cy <= jaws.Y2
			inPhantom := y >= -inferiorLimit

			switch {
			case inField && inPhantom:
				img.SetRGBA(px, py, Aperture)
			case inField:
				img.SetRGBA(px, py, Overhang)
			case inPhantom:
				img.SetRGBA(px, py, Phantom)
			default:
				img.SetRGBA(px, py, Background)
			}
		}
	}

	cx, cy := r.ToImage(0, 0)
	for d := -4; d <= 4; d++ {
		if cx+d >= 0 && cx+d < r.size {
			img.SetRGBA(cx+d, cy, Crosshair)
		}
		if cy+d >= 0 && cy+d < r.size {
			img.SetRGBA(cx, cy+d, Crosshair)
		}
	}
	return img
}

// CountOverhang returns the number of aperture pixels outside the phantom
func CountOverhang(img *image.RGBA) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == Overhang {
				n++
			}
		}
	}
	return n
}

// Save writes a snapshot as a JPEG image
func (r *Renderer) Save(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveBeams renders the first control point of every beam into outputDir
// and returns the written paths in beam order
func (r *Renderer) SaveBeams(beams []*models.Beam, inferiorLimit float64, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	for i, bm := range beams {
		cp, ok := bm.FirstControlPoint()
		if !ok {
			return paths, fmt.Errorf("beam %s has no control points", bm.ID)
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("bev_%02d_%s.jpg", i+1, fileSafe(bm.ID)))
		if err := r.Save(r.Render(cp, inferiorLimit), filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}

func fileSafe(id string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		default:
			return '_'
		}
	}, id)
}
