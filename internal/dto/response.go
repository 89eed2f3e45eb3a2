package dto

// ── 分页请求 ──

// PaginationRequest 通用分页参数（提示列表）
type PaginationRequest struct {
	Page     int `form:"page"      binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=50"`
}

// GetPage 获取页码（含默认值）
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页数量（含默认值）
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 20
	}
	return p.PageSize
}

// GetOffset 计算偏移量
func (p *PaginationRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// Window 返回 [offset, end) 在长度为 total 的列表中的有效范围
func (p *PaginationRequest) Window(total int) (int, int) {
	start := p.GetOffset()
	if start > total {
		start = total
	}
	end := start + p.GetPageSize()
	if end > total {
		end = total
	}
	return start, end
}
