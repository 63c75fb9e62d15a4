package relay

import (
	"fmt"
	"math/rand/v2"
)

const roomCodeSpace = 10000

// GenerateRoomCode returns a random 4-digit room code
func GenerateRoomCode() string {
	return fmt.Sprintf("%04d", rand.IntN(roomCodeSpace))
}
