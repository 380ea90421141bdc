package tile

import "math"

// NewGeometry computes padding and valid window starts for an image of the
// given shape.
//
// Each axis is padded up to the next multiple of windowSize with the image
// centered (floor division, so odd padding leaves the extra unit on the high
// side). Put the other way round, the image sits one unit closer to the
// low-index edge. Window starts are the multiples of stepSize whose window
// ends strictly before the padded edge: start+windowSize < padded. The strict
// comparison drops the window flush with the edge; tile counts depend on it.
//
// NewGeometry allocates one start per window along each axis. Callers taking
// untrusted shapes should bound them with CountWindows first.
func NewGeometry(shape Shape, windowSize, stepSize int) (*Geometry, error) {
	rows, cols, err := CountWindows(shape, windowSize, stepSize)
	if err != nil {
		return nil, err
	}

	g := &Geometry{
		Image:      shape,
		WindowSize: windowSize,
		StepSize:   stepSize,
	}

	var padded [2]int
	for axis := AxisA; axis <= AxisB; axis++ {
		dim := shape.Dim(axis)
		g.Tiles[axis], padded[axis], _ = axisTiles(dim, windowSize)
		g.Offset[axis] = (padded[axis] - dim) / 2
	}
	g.Padded = Shape{Height: padded[AxisA], Width: padded[AxisB]}
	g.StartsA = axisStarts(rows, stepSize)
	g.StartsB = axisStarts(cols, stepSize)

	return g, nil
}

// CountWindows returns the number of window starts along each axis without
// allocating them. It fails with *GeometryError when a parameter is not
// positive or the padded extent or total count overflows int.
func CountWindows(shape Shape, windowSize, stepSize int) (int, int, error) {
	switch {
	case windowSize <= 0:
		return 0, 0, &GeometryError{Field: "window size", Value: windowSize}
	case stepSize <= 0:
		return 0, 0, &GeometryError{Field: "step size", Value: stepSize}
	case shape.Height <= 0:
		return 0, 0, &GeometryError{Field: "image height", Value: shape.Height}
	case shape.Width <= 0:
		return 0, 0, &GeometryError{Field: "image width", Value: shape.Width}
	}

	var counts [2]int
	for axis := AxisA; axis <= AxisB; axis++ {
		dim := shape.Dim(axis)
		_, padded, ok := axisTiles(dim, windowSize)
		if !ok {
			return 0, 0, &GeometryError{Field: axisField(axis), Value: dim, Reason: "is too large to pad"}
		}
		counts[axis] = axisCount(padded, windowSize, stepSize)
	}

	rows, cols := counts[AxisA], counts[AxisB]
	if cols > 0 && rows > math.MaxInt/cols {
		return 0, 0, &GeometryError{Field: "window count", Value: rows, Reason: "overflows int"}
	}
	return rows, cols, nil
}

// axisTiles returns ceil(dim/windowSize) and the padded extent. ok is false
// when the padded extent does not fit in an int.
func axisTiles(dim, windowSize int) (tiles, padded int, ok bool) {
	tiles = dim / windowSize
	if dim%windowSize != 0 {
		tiles++
	}
	if tiles > math.MaxInt/windowSize {
		return 0, 0, false
	}
	return tiles, tiles * windowSize, true
}

// axisCount returns how many starts s satisfy s+windowSize < extent.
func axisCount(extent, windowSize, stepSize int) int {
	if extent <= windowSize {
		return 0
	}
	return (extent-windowSize-1)/stepSize + 1
}

// axisStarts lists n window starts along one padded axis.
func axisStarts(n, stepSize int) []int {
	starts := make([]int, n)
	for i := range starts {
		starts[i] = i * stepSize
	}
	return starts
}

func axisField(axis int) string {
	if axis == AxisA {
		return "image height"
	}
	return "image width"
}
