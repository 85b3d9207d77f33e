package memory

import (
	"context"
	"sort"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
)

var _ progression.StatsReader = (*Store)(nil)

// AcademyStats implements progression.StatsReader.
func (s *Store) AcademyStats(ctx context.Context, academyID string) (progression.AcademyStats, error) {
	out := progression.AcademyStats{
		AcademyID: academyID,
		Requests:  make(map[progression.RequestStatus]int),
	}
	ranks := make(map[progression.RankCount]int)

	err := storeView{s}.read(ctx, func(st *state) error {
		for _, p := range st.practitioners {
			if p.AcademyID != academyID {
				continue
			}
			if !p.Active {
				out.Inactive++
				continue
			}
			out.Active++
			ranks[progression.RankCount{BeltCode: p.BeltCode, Degree: p.Degree}]++
		}
		for _, r := range st.requests {
			if r.AcademyID == academyID {
				out.Requests[r.Status]++
			}
		}
		return nil
	})
	if err != nil {
		return progression.AcademyStats{}, err
	}

	for rc, n := range ranks {
		rc.Count = n
		out.Ranks = append(out.Ranks, rc)
	}
	sort.Slice(out.Ranks, func(i, j int) bool {
		if out.Ranks[i].BeltCode != out.Ranks[j].BeltCode {
			return out.Ranks[i].BeltCode < out.Ranks[j].BeltCode
		}
		return out.Ranks[i].Degree < out.Ranks[j].Degree
	})
	return out, nil
}
