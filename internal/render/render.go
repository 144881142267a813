package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/boardcam/internal/board"
)

const (
	squareSize = 56
	margin     = 24
	boardSize  = squareSize * board.Size
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	highlightFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	coordinateColor = color.RGBA{R: 8, G: 214, B: 120, A: 255}
	whiteLetter     = color.RGBA{30, 30, 30, 255}
	blackLetter     = color.RGBA{240, 240, 240, 255}
)

// PNG draws pos as a top-down board, rank 8 at the top. The squares of
// highlight, when given, are tinted.
func PNG(pos *nchess.Position, highlight *board.Move) ([]byte, error) {
	if pos == nil {
		return nil, fmt.Errorf("position is nil")
	}
	side := boardSize + margin*2
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	origin := image.Pt(margin, margin)
	drawSquares(img, origin)
	if highlight != nil {
		drawSquareOverlay(img, highlight.From, origin)
		drawSquareOverlay(img, highlight.To, origin)
	}
	if err := drawPieces(img, pos.Board(), origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func cellRect(sq board.Square, origin image.Point) image.Rectangle {
	x := origin.X + sq.Col*squareSize
	y := origin.Y + sq.Row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func toSquare(sq board.Square) nchess.Square {
	return nchess.NewSquare(nchess.File(sq.Col), nchess.Rank(board.Size-1-sq.Row))
}

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size; c++ {
			clr := lightSquare
			if (r+c)%2 == 1 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, cellRect(board.Square{Row: r, Col: c}, origin), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawSquareOverlay(dst imagedraw.Image, sq board.Square, origin image.Point) {
	if !sq.Valid() {
		return
	}
	imagedraw.Draw(dst, cellRect(sq, origin), image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
}

func drawPieces(dst imagedraw.Image, b *nchess.Board, origin image.Point) error {
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13}
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size; c++ {
			sq := board.Square{Row: r, Col: c}
			piece := b.Piece(toSquare(sq))
			if piece == nchess.NoPiece {
				continue
			}
			disc, err := pieceDisc(piece.Color())
			if err != nil {
				return err
			}
			rect := cellRect(sq, origin)
			imagedraw.Draw(dst, rect, disc, image.Point{}, imagedraw.Over)

			drawer.Src = image.NewUniform(whiteLetter)
			if piece.Color() == nchess.Black {
				drawer.Src = image.NewUniform(blackLetter)
			}
			center := rect.Min.Add(image.Pt(squareSize/2, squareSize/2))
			drawCenteredText(drawer, pieceLabel(piece), center.X, center.Y+basicfont.Face7x13.Ascent/2)
		}
	}
	return nil
}

func pieceLabel(p nchess.Piece) string {
	switch p.Type() {
	case nchess.King:
		return "K"
	case nchess.Queen:
		return "Q"
	case nchess.Rook:
		return "R"
	case nchess.Bishop:
		return "B"
	case nchess.Knight:
		return "N"
	case nchess.Pawn:
		return "P"
	}
	return "?"
}

const discSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100" width="100" height="100">
<circle cx="50" cy="50" r="38" style="fill:%s;stroke:%s;stroke-width:5"/>
</svg>`

var (
	discCache   = map[nchess.Color]image.Image{}
	discCacheMu sync.Mutex
)

func pieceDisc(c nchess.Color) (image.Image, error) {
	discCacheMu.Lock()
	defer discCacheMu.Unlock()
	if img, ok := discCache[c]; ok {
		return img, nil
	}

	fill, stroke := "#f8f4ea", "#2a2a2a"
	if c == nchess.Black {
		fill, stroke = "#26221f", "#d8d2c4"
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(fmt.Sprintf(discSVG, fill, stroke)))
	if err != nil {
		return nil, fmt.Errorf("parse disc svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(squareSize), float64(squareSize))

	img := image.NewRGBA(image.Rect(0, 0, squareSize, squareSize))
	scanner := rasterx.NewScannerGV(squareSize, squareSize, img, img.Bounds())
	raster := rasterx.NewDasher(squareSize, squareSize, scanner)
	icon.Draw(raster, 1.0)

	discCache[c] = img
	return img, nil
}

func drawCoordinates(dst imagedraw.Image, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(coordinateColor),
		Face: basicfont.Face7x13,
	}
	ascent := basicfont.Face7x13.Ascent
	for i := 0; i < board.Size; i++ {
		center := origin.Y + i*squareSize + squareSize/2
		drawCenteredText(drawer, string(rune('8'-i)), origin.X-margin/2, center+ascent/2)

		fileCenter := origin.X + i*squareSize + squareSize/2
		drawCenteredText(drawer, string(rune('a'+i)), fileCenter, origin.Y+boardSize+ascent+4)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text)
	drawer.Dot = fixed.Point26_6{
		X: fixed.I(centerX) - width/2,
		Y: fixed.I(baseline),
	}
	drawer.DrawString(text)
}
