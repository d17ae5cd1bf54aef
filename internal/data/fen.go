package data

import (
	"fmt"
	"strings"
)

// Chess input encoding: 2 sides x 6 piece types x 64 squares.
const (
	pieceTypes    = 6
	boardSquares  = 64
	ChessFeatures = 2 * pieceTypes * boardSquares
)

// pieceIndex maps a FEN piece letter to its type (P N B R Q K = 0..5)
// and colour (true for white).
func pieceIndex(c byte) (piece int, white bool, ok bool) {
	i := strings.IndexByte("PNBRQKpnbrqk", c)
	if i < 0 {
		return 0, false, false
	}
	return i % pieceTypes, i < pieceTypes, true
}

// encodeFEN sets the one-hot features of a position into dst, which must
// have ChessFeatures zeroed elements. Only the placement and side-to-move
// fields are read.
//
// Features are relative to the side to move:
//
//	feature = enemy*384 + piece*64 + square
//
// where square is a1=0 .. h8=63, mirrored vertically when black is to move.
func encodeFEN(fen string, dst []float32) error {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return fmt.Errorf("invalid FEN %q: need placement and side to move", fen)
	}

	var blackToMove bool
	switch fields[1] {
	case "w":
	case "b":
		blackToMove = true
	default:
		return fmt.Errorf("invalid side to move: %s", fields[1])
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return fmt.Errorf("invalid piece placement: need 8 ranks, got %d", len(ranks))
	}

	for i, rankStr := range ranks {
		rank := 7 - i // FEN starts from rank 8
		file := 0

		for j := 0; j < len(rankStr); j++ {
			c := rankStr[j]
			if file > 7 {
				return fmt.Errorf("too many squares in rank %d", rank+1)
			}
			if c >= '1' && c <= '8' {
				file += int(c - '0')
				continue
			}

			piece, white, ok := pieceIndex(c)
			if !ok {
				return fmt.Errorf("invalid piece character: %c", c)
			}
			square := rank*8 + file
			if blackToMove {
				square ^= 56
			}
			enemy := 0
			if white == blackToMove {
				enemy = 1
			}
			dst[enemy*pieceTypes*boardSquares+piece*boardSquares+square] = 1
			file++
		}

		if file != 8 {
			return fmt.Errorf("invalid number of squares in rank %d: got %d", rank+1, file)
		}
	}
	return nil
}
