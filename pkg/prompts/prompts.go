// Package prompts holds the default prompt for every mode. Config files may override them.
package prompts

import "github.com/menta2k/shelf-vision/pkg/types"

// ShelfCategory asks whether the main shelf holds toothpaste or mouthwash
const ShelfCategory = `
分析這張圖片中的主要貨架，判斷是牙膏或漱口水的貨架。

重要提示：
- 請只關注畫面中央的主要貨架
- 忽略周邊的紙箱、其他貨架等干擾元素
- 即使貨架較小，也要仔細觀察商品特徵

判斷原則（按優先順序）：
1. 展示牌內容判斷（如果有）：
 - 漱口水貨架：展示牌通常會有“12小時長效清新”等相關字樣
 - 牙膏貨架：展示牌通常會有“7天顯著焠白”等相關字樣

2. 商品特徵判斷（當展示牌不存在或不清晰時）：
 - 漱口水：
 * 商品為直立的瓶裝包裝
 * 能看到透明瓶身中的液體
 * 瓶身較高且圓柱形
 - 牙膏：
 * 商品為扁平軟管包裝
 * 通常橫放或斜靠擺放
 * 包裝較扁平且長方形

3. 貨架擺放方式：
 - 漱口水：通常直立擺放，每層間距較高
 - 牙膏：可能多層緊密排列，間距較小

請根據以上原則，回答商品類別（只能回答“牙膏”或“漱口水”）。

注意：
1. 只需要回答“牙膏”或“漱口水”
2. 不要添加任何額外的文字、符號或換行
3. 按照判斷原則的優先順序進行分析
4. 完全忽略主要貨架以外的區域
`

// ShelfDefect asks for one of the four checkout-shelf defect categories
const ShelfDefect = `
請分析這張貨架圖片，並從以下 4 種瑕疵類別中選出最適合的答案：
→ 缺品、缺價卡、品項錯誤、缺串條

以下是詳細規範，請依照規範做判斷並**只回傳瑕疵類別名稱**：

1. 商品排列：
   - 第1排：廣告展示區
   - 第2排：6個刮鬍刀架密相連，價格牌在上方
   - 第3排：3個刀片商品均勻分布，價格牌在下方
   - 第4排：6個商品均勻分布，價格牌在上方
   - 第5排：4個刮鬍泡均勻分布，價格牌在下方
   - 串條區：xtreme3刮鬍刀，價格牌在上方

2. 包裝顏色順序：
   - 第2排：Hydro5 Premium, Hydro5 Premium, Hydro5 Premium, Hydro5, Hydro5, Hydro5
   - 第3排：Hydro5 刀片 ×3
   - 第4排：Hydro5 Custom ×6
   - 第5排：白色, 綠色, 綠色, 藍色
   - 串條區：xtreme3

3. 檢查項目：
   1. 商品擺放：是否有缺品？
   2. 價格牌顯示：是否有缺價卡？
   3. 商品正確性：品項型號、包裝顏色是否正確？
   4. 串條區：是否缺少串條？
`

// ProductList asks for every visible product as a JSON array
const ProductList = `
請根據這張圖片，找出所有可見的產品，並以 JSON 陣列格式回傳。每個元素包含：
 - 廠名：佰事達物流股份有限公司
   - 品名：豐力富即溶濃縮乳清蛋白(清爽原味)
   - 規格：450g * 2 入
   - 條碼：4710958448569
   - 包裝特色：
     1. 上半部有黃色握把造型
     2. 左半部駝金色、右半部藍綠色漸層
     3. 最上方有 “Fernleaf” 字樣
     4. 中間大字 “Protein+ 即溶濃縮乳清蛋白”

**注意**：只回傳 JSON，不要多餘文字。
`

// ProductBoxes asks whether one product is present and where
const ProductBoxes = `
請分析這張貨架圖片，並偵測是否含有「安怡優蛋白肌肉+」此產品。
嚴格遵守以下規範，僅回傳最終 JSON 結果，**不做其他敘述**。

1. 分析規則
   - 只偵測「安怡優蛋白肌肉+」，忽略其他品牌與包裝。
   - 若未偵測到，則 "found": false 且 "count": 0，"locations": []。
   - 若偵測到，一定要回傳每個包裝的 bounding box 座標（左上角 x1,y1，右下角 x2,y2）。

2. 產品參考資訊
     "廠名": "佰事達物流股份有限公司",
      "品名": "安怡優蛋白肌肉+",
      "規格": "",
      "條碼": "",
      "包裝特色": [
        "1. 金色罐蓋",
        "2. 白色罐身",
        "3. 標籤上有 'Anlene 安怡' 字樣",
        "4. 標籤上有 '優蛋白肌肉+' 字樣",
        "5. 有金色漸層設計"

3. 輸出格式（**必須**遵守）
{
  "product": "安怡優蛋白肌肉+",
  "found": <true|false>,
  "locations": [
    {"x1": <int>, "y1": <int>, "x2": <int>, "y2": <int>},
    …
  ]
}
`

// PromptEngineering asks the model to write a detection prompt for the image
const PromptEngineering = `
請根據這張貨架圖片生成一份「提示工程」（Prompt Engineering）：
1. 明確分析目標（要偵測的產品/情境）。
2. 規範輸出格式（JSON 格式範例）。
3. 必要時補充產品參考資訊或包裝特徵。
4. 僅回傳最終要用於分析的 Prompt 文字，不要其他敘述。
5. 請嚴格遵守產品偵測模板的形式
`

var defaults = map[types.Mode]string{
	types.ModeLabel:    ShelfCategory,
	types.ModeAccuracy: ShelfDefect,
	types.ModeProducts: ProductList,
	types.ModeBoxes:    ProductBoxes,
	types.ModePrompt:   PromptEngineering,
}

// Default returns the built-in prompt for mode
func Default(mode types.Mode) string {
	return defaults[mode]
}

// Resolve returns the override for mode when present, else the default
func Resolve(mode types.Mode, overrides map[string]string) string {
	if p, ok := overrides[string(mode)]; ok && p != "" {
		return p
	}
	return Default(mode)
}
