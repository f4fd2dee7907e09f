package lattice

import "fmt"

// Lattice is a dense cubic grid of scalar samples taken at voxel corners. A
// node with Res cubes per axis owns a lattice with Res+1 points per axis.
type Lattice struct {
	Res    int
	Values []float64
}

// New allocates a zeroed lattice for res cubes per axis.
func New(res int) *Lattice {
	return &Lattice{Res: res, Values: make([]float64, Size(res))}
}

// Side returns the number of points along one axis.
func (l *Lattice) Side() int {
	return l.Res + 1
}

// Size is the number of samples in a lattice with res cubes per axis.
func Size(res int) int {
	side := res + 1
	return side * side * side
}

// Index maps lattice coordinates to a flat offset: x + side*(y + side*z).
// Coordinates outside [0, res] panic; a wrong index would silently read a
// neighbouring sample.
func Index(res, x, y, z int) int {
	side := res + 1
	if x < 0 || y < 0 || z < 0 || x >= side || y >= side || z >= side {
		panic(fmt.Sprintf("lattice: index (%d,%d,%d) outside side %d", x, y, z, side))
	}
	return x + side*(y+side*z)
}

// Coords is the inverse of Index.
func Coords(res, idx int) (x, y, z int) {
	side := res + 1
	x = idx % side
	y = (idx / side) % side
	z = idx / (side * side)
	return x, y, z
}

// At returns the sample at (x, y, z).
func (l *Lattice) At(x, y, z int) float64 {
	return l.Values[Index(l.Res, x, y, z)]
}

// Set stores v at (x, y, z).
func (l *Lattice) Set(x, y, z int, v float64) {
	l.Values[Index(l.Res, x, y, z)] = v
}

// Validate reports whether the backing slice has exactly the expected length.
func (l *Lattice) Validate() error {
	if l == nil {
		return fmt.Errorf("lattice: nil")
	}
	if l.Res <= 0 {
		return fmt.Errorf("lattice: resolution must be positive, got %d", l.Res)
	}
	if want := Size(l.Res); len(l.Values) != want {
		return fmt.Errorf("lattice: have %d samples, want %d", len(l.Values), want)
	}
	return nil
}
