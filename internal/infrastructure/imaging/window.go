package imaging

import "image"

// Window returns (rowStart, rowEnd, colStart, colEnd) of a width x height
// subset centred on center (row, col). A window that would cross the image
// edge is shifted back inside rather than shrunk; it is only truncated when
// it is larger than the image itself.
func Window(center [2]int, width, height, maxWidth, maxHeight int) (int, int, int, int) {
	rowStart, rowEnd := span(center[0], height, maxHeight)
	colStart, colEnd := span(center[1], width, maxWidth)
	return rowStart, rowEnd, colStart, colEnd
}

func span(center, size, limit int) (int, int) {
	if size <= 0 || size >= limit {
		return 0, limit
	}
	start := center - size/2
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > limit {
		end = limit
		start = limit - size
	}
	return start, end
}

func windowRect(center [2]int, width, height int, bounds image.Rectangle) image.Rectangle {
	r0, r1, c0, c1 := Window(center, width, height, bounds.Dx(), bounds.Dy())
	return image.Rect(bounds.Min.X+c0, bounds.Min.Y+r0, bounds.Min.X+c1, bounds.Min.Y+r1)
}
