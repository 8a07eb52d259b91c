package domain

import "time"

// Merge folds a guest cart into an account cart. Keys present in both take
// the larger quantity, never the sum. Durable lines keep their order and
// captured price; guest-only lines are appended in guest order.
func Merge(local, durable *Cart) *Cart {
	merged := &Cart{
		ID:        durable.ID,
		UserID:    durable.UserID,
		Items:     make([]CartLine, 0, len(durable.Items)+len(local.Items)),
		CreatedAt: durable.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = merged.UpdatedAt
	}

	localByKey := make(map[LineKey]CartLine, len(local.Items))
	for _, l := range local.Items {
		if l.Quantity > 0 {
			localByKey[l.Key()] = l
		}
	}

	seen := make(map[LineKey]struct{}, len(durable.Items))
	for _, d := range durable.Items {
		if d.Quantity <= 0 {
			continue
		}
		if _, dup := seen[d.Key()]; dup {
			continue
		}
		if l, ok := localByKey[d.Key()]; ok && l.Quantity > d.Quantity {
			d.Quantity = l.Quantity
		}
		merged.Items = append(merged.Items, d)
		seen[d.Key()] = struct{}{}
	}

	for _, l := range local.Items {
		if l.Quantity <= 0 {
			continue
		}
		if _, ok := seen[l.Key()]; ok {
			continue
		}
		merged.Items = append(merged.Items, l)
		seen[l.Key()] = struct{}{}
	}

	return merged
}
