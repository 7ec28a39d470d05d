package systems

// Per-purpose salts keep the noise streams independent even when they share
// a seed, tick and entity id.
const (
	saltWander  = 0x77616e64
	saltTargetX = 0x74677278
	saltTargetY = 0x74677279
	saltHeading = 0x68656164
)

// hashNoise maps (seed, tick, id, salt) to a float64 in [0, 1). Systems use
// it instead of a shared RNG stream: the value depends only on its inputs,
// so replays and snapshot resumes make the same choices no matter what ran
// before.
func hashNoise(seed int64, tick uint64, id string, salt uint64) float64 {
	h := uint64(seed) ^ tick*0x9e3779b97f4a7c15 ^ salt
	for i := 0; i < len(id); i++ {
		h = (h ^ uint64(id[i])) * 0x100000001b3
	}
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return float64(h>>11) / (1 << 53)
}
